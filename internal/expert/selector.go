// Package expert selects the expert roles a task description needs. A
// keyword heuristic always runs; an optional language model classification
// extends it with catalog roles and free-form roles.
package expert

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DebugTrace records how a selection was made.
type DebugTrace struct {
	Provider    string   `json:"provider,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	RawResponse string   `json:"raw_response,omitempty"`
	ParsedRoles []string `json:"parsed_roles"`
	Heuristic   []Role   `json:"heuristic"`
	Final       []Role   `json:"final"`
	Error       string   `json:"error,omitempty"`
}

type Selector struct {
	mu         sync.RWMutex
	classifier *Classifier
	timeout    time.Duration
}

// NewSelector returns a selector. A nil classifier means heuristic only.
func NewSelector(c *Classifier, timeout time.Duration) *Selector {
	return &Selector{classifier: c, timeout: timeout}
}

// Configure swaps the classifier and its timeout. Calls already in flight
// keep the previous settings.
func (s *Selector) Configure(c *Classifier, timeout time.Duration) {
	s.mu.Lock()
	s.classifier, s.timeout = c, timeout
	s.mu.Unlock()
}

func (s *Selector) settings() (*Classifier, time.Duration) {
	if s == nil {
		return nil, 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classifier, s.timeout
}

// Select returns the de-duplicated roles for text. Known roles come first in
// catalog order, followed by free-form roles in the order the model returned
// them. Classification failures fall back to the heuristic result and are
// recorded only in the trace.
func (s *Selector) Select(ctx context.Context, text string, catalog *Catalog) ([]Role, *DebugTrace) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	heuristic := Heuristic(text, catalog)
	trace := &DebugTrace{
		Heuristic:   nonNil(heuristic),
		ParsedRoles: []string{},
	}

	selected := make(map[Role]struct{}, len(heuristic))
	for _, r := range heuristic {
		selected[r] = struct{}{}
	}
	var unknown []Role

	classifier, timeout := s.settings()
	if classifier != nil && classifier.provider != nil && strings.TrimSpace(text) != "" {
		trace.Provider = classifier.providerName()
		cctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := classifier.Classify(cctx, text, catalog)
		trace.Prompt = res.Prompt
		if err != nil {
			slog.Warn("expert classification unavailable, using heuristic", "provider", trace.Provider, "error", err)
			trace.Error = err.Error()
		} else {
			trace.RawResponse = res.Raw
			trace.ParsedRoles = nonNil(res.Roles)
			for _, name := range res.Roles {
				r, ok := catalog.Resolve(name)
				if !ok {
					r = Role(strings.TrimSpace(name))
				}
				if _, dup := selected[r]; dup {
					continue
				}
				selected[r] = struct{}{}
				if !ok {
					unknown = append(unknown, r)
				}
			}
		}
	}

	final := make([]Role, 0, len(selected))
	for r := range selected {
		if catalog.Known(r) {
			final = append(final, r)
		}
	}
	sort.Slice(final, func(i, j int) bool {
		return catalog.rank[final[i]] < catalog.rank[final[j]]
	})
	final = append(final, unknown...)
	trace.Final = final
	return final, trace
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
