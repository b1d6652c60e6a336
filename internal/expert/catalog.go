package expert

import (
	"strings"
)

// Role identifies an expert. Roles outside the catalog are valid and are
// carried through verbatim.
type Role string

func (r Role) String() string { return string(r) }

// Entry is one catalog role with the keywords that select it.
type Entry struct {
	Role     Role
	Keywords []string
}

// Catalog is an ordered list of known roles. The order defines the stable
// output order of selections.
type Catalog struct {
	entries []Entry
	rank    map[Role]int
	alias   map[string]Role // normalized role name or keyword -> role
}

func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{
		entries: entries,
		rank:    make(map[Role]int, len(entries)),
		alias:   make(map[string]Role),
	}
	for i, e := range entries {
		if _, dup := c.rank[e.Role]; dup {
			continue
		}
		c.rank[e.Role] = i
		c.alias[normalize(string(e.Role))] = e.Role
	}
	// Role names win over keywords; the first role listing a keyword owns it.
	for _, e := range entries {
		for _, kw := range e.Keywords {
			k := normalize(kw)
			if _, taken := c.alias[k]; !taken {
				c.alias[k] = e.Role
			}
		}
	}
	return c
}

// Known reports whether r is a catalog role.
func (c *Catalog) Known(r Role) bool {
	_, ok := c.rank[r]
	return ok
}

// Roles returns the catalog roles in rank order.
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Role)
	}
	return out
}

// Resolve maps a free-form role name to a catalog role when it names one
// exactly (case-insensitive) or equals one of its keywords. A whole-name
// keyword match counts as recognition, so "UI" resolves to frontend; any
// other name is not resolved and the caller keeps it as given.
func (c *Catalog) Resolve(name string) (Role, bool) {
	r, ok := c.alias[normalize(name)]
	return r, ok
}

func (c *Catalog) String() string {
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, string(e.Role))
	}
	return strings.Join(names, ", ")
}

// DefaultCatalog is the cross-domain catalog of IT and non-IT roles.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Entry{
		{"frontend", []string{"frontend", "ui", "ux", "react", "vue", "css", "html", "javascript", "client", "bootstrap", "tailwind", "web ui"}},
		{"backend", []string{"backend", "api", "django", "fastapi", "flask", "server", "auth", "rest"}},
		{"database", []string{"database", "db", "sql", "postgres", "sqlite", "mongodb", "redis", "neo4j", "schema", "migration"}},
		{"devops", []string{"deploy", "docker", "kubernetes", "ci", "cd", "pipeline", "github actions", "aws", "gcp", "azure", "helm", "terraform", "prometheus", "grafana", "nginx"}},
		{"security", []string{"oauth", "jwt", "security", "sso", "vuln", "owasp", "secrets"}},
		{"qa", []string{"qa", "test", "pytest", "coverage", "unit", "integration", "selenium", "playwright", "quality"}},
		{"ml", []string{"ml", "ai", "model", "transformers", "huggingface", "langchain", "llm", "rag", "nlp"}},
		{"product", []string{"product", "requirements", "acceptance criteria", "story", "epic", "roadmap", "backlog"}},
		{"design", []string{"design", "figma", "wireframe", "prototype", "ux", "ui"}},
		{"performance", []string{"performance", "perf", "load", "scalability", "benchmark", "cache"}},
		{"realtime", []string{"websocket", "channels", "socket", "realtime", "stream"}},
		{"observability", []string{"logging", "monitoring", "sentry", "tracing", "opentelemetry"}},
		{"knowledge_graph", []string{"neo4j", "cypher", "graph", "ontology", "knowledge graph"}},
		{"legal", []string{"legal", "law", "contract", "gdpr", "privacy", "ip", "license", "trademark", "compliance"}},
		{"finance", []string{"finance", "budget", "budgeting", "accounting", "pricing", "cost", "roi", "revenue", "expense", "forecast", "valuation"}},
		{"marketing", []string{"marketing", "seo", "sem", "content", "campaign", "brand", "social", "advertising", "copy"}},
		{"sales", []string{"sales", "crm", "pipeline", "lead", "outreach", "negotiation", "deal"}},
		{"hr", []string{"hr", "hiring", "recruiting", "onboarding", "policy", "payroll", "benefits", "people"}},
		{"operations", []string{"operations", "process", "supply", "logistics", "procurement", "vendor", "inventory", "ops"}},
		{"governance", []string{"governance", "risk", "audit", "gxp", "sox", "gxp compliance"}},
		{"healthcare", []string{"healthcare", "medical", "clinical", "patient", "diagnosis", "treatment", "hipaa", "fda"}},
		{"education", []string{"education", "teaching", "curriculum", "training", "learning", "pedagogy"}},
		{"research", []string{"research", "experiment", "hypothesis", "analysis", "survey", "literature"}},
		{"data_science", []string{"data science", "analytics", "statistics", "modeling", "visualization", "hypothesis testing"}},
		{"ethics", []string{"ethics", "fairness", "bias", "responsible ai"}},
		{"localization", []string{"localization", "translation", "i18n", "l10n"}},
		{"manufacturing", []string{"manufacturing", "production", "quality control", "lean", "six sigma"}},
		{"support", []string{"support", "customer support", "helpdesk", "ticket", "csat"}},
	})
}
