package expert

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mtzanidakis/aiteam/internal/llm"
)

var bulletLine = regexp.MustCompile(`^(?:\\?[-*•–]|\d+[.)])\s+(.*)$`)

// parseBullets extracts the text of bullet-like lines ("- x", "* x", "• x",
// "1. x", "1) x").
func parseBullets(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := bulletLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if item := strings.TrimSpace(m[1]); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func buildPrompt(text string, catalog *Catalog) string {
	return "You coordinate a cross-domain expert team (IT and non-IT). " +
		"From the tasks/description, list the required expert roles as bullet lines " +
		"starting with '- '. Prefer canonical roles from this catalog when applicable: " +
		catalog.String() + ". If a suitable role is not in the catalog, output a precise freeform role.\n" +
		"Input:\n" + text + "\n" +
		"Return only the list of roles, one per line, no extra text."
}

// Classification is the outcome of one LLM classification request.
type Classification struct {
	Roles  []string
	Raw    string
	Prompt string
}

// Classifier asks a language model which expert roles a description needs.
type Classifier struct {
	provider llm.Provider
}

func NewClassifier(p llm.Provider) *Classifier {
	return &Classifier{provider: p}
}

// Classify returns the parsed role lines. Errors wrap llm.ErrUnavailable or
// llm.ErrTimeout.
func (c *Classifier) Classify(ctx context.Context, text string, catalog *Catalog) (Classification, error) {
	res := Classification{Prompt: buildPrompt(text, catalog)}
	if c == nil || c.provider == nil {
		return res, fmt.Errorf("classify: %w: no provider configured", llm.ErrUnavailable)
	}
	raw, err := c.provider.Generate(ctx, res.Prompt)
	if err != nil {
		return res, fmt.Errorf("classify: %w", err)
	}
	res.Raw = raw
	res.Roles = parseBullets(raw)
	return res, nil
}

func (c *Classifier) providerName() string {
	if c == nil || c.provider == nil {
		return ""
	}
	return c.provider.Name()
}
