package expert

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/aiteam/internal/llm"
)

type fakeProvider struct {
	response string
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, _ string) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", fmt.Errorf("fake: %w: %v", llm.ErrTimeout, ctx.Err())
		}
	}
	return f.response, f.err
}

func chatCatalog() *Catalog {
	return NewCatalog([]Entry{
		{"frontend", []string{"chat", "ui"}},
		{"backend", []string{"chat", "api"}},
		{"legal", []string{"contract"}},
	})
}

func TestHeuristicWholeWords(t *testing.T) {
	c := DefaultCatalog()

	assert.Empty(t, Heuristic("build the thing", c), "ui must not match inside build")
	assert.Equal(t, []Role{"frontend", "backend"}, Heuristic("React page with a REST api", c))
	assert.Equal(t, []Role{"product"}, Heuristic("write the acceptance   criteria", c))
	assert.Empty(t, Heuristic("", c))
	assert.Empty(t, Heuristic("  ...  ", c))
}

func TestHeuristicCatalogOrder(t *testing.T) {
	c := DefaultCatalog()
	got := Heuristic("GDPR review, then add a postgres schema and a react page", c)
	assert.Equal(t, []Role{"frontend", "database", "legal"}, got)
}

func TestSelectHeuristicOnly(t *testing.T) {
	s := NewSelector(nil, 0)

	roles, trace := s.Select(context.Background(), "Build chat", chatCatalog())
	assert.ElementsMatch(t, []Role{"frontend", "backend"}, roles)
	require.NotNil(t, trace)
	assert.Empty(t, trace.Provider)
	assert.Equal(t, roles, trace.Final)
}

func TestSelectIdempotent(t *testing.T) {
	s := NewSelector(NewClassifier(&fakeProvider{response: "- legal\n- xenobiology"}), 0)
	c := DefaultCatalog()

	first, _ := s.Select(context.Background(), "docker deploy for a contract app", c)
	second, _ := s.Select(context.Background(), "docker deploy for a contract app", c)
	assert.Equal(t, first, second)
}

func TestSelectPreservesUnknownRoles(t *testing.T) {
	p := &fakeProvider{response: "Roles:\n- Xenobiology\n* legal\n1. Contract\n2) marine archaeology\n- xenobiology"}
	s := NewSelector(NewClassifier(p), time.Second)

	roles, trace := s.Select(context.Background(), "study alien life", DefaultCatalog())
	assert.Equal(t, []Role{"legal", "Xenobiology", "marine archaeology", "xenobiology"}, roles)
	assert.Equal(t, "fake", trace.Provider)
	assert.Contains(t, trace.Prompt, "frontend, backend")
	assert.Equal(t, []string{"Xenobiology", "legal", "Contract", "marine archaeology", "xenobiology"}, trace.ParsedRoles)
}

func TestSelectUnionWithHeuristic(t *testing.T) {
	p := &fakeProvider{response: "- backend\n- xenobiology"}
	s := NewSelector(NewClassifier(p), 0)

	roles, _ := s.Select(context.Background(), "a react page", DefaultCatalog())
	assert.Equal(t, []Role{"frontend", "backend", "xenobiology"}, roles)
}

func TestSelectFallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		timeout  time.Duration
	}{
		{"unavailable", &fakeProvider{err: fmt.Errorf("fake: %w", llm.ErrUnavailable)}, 0},
		{"timeout", &fakeProvider{response: "- xenobiology", delay: time.Second}, 20 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(NewClassifier(tt.provider), tt.timeout)
			roles, trace := s.Select(context.Background(), "Build chat", chatCatalog())
			assert.ElementsMatch(t, []Role{"frontend", "backend"}, roles)
			assert.NotEmpty(t, trace.Error)
		})
	}
}

func TestSelectEmptyDescriptionSkipsProvider(t *testing.T) {
	p := &fakeProvider{response: "- legal"}
	s := NewSelector(NewClassifier(p), 0)

	roles, _ := s.Select(context.Background(), "   ", DefaultCatalog())
	assert.Empty(t, roles)
	assert.Zero(t, p.calls)
}

func TestSelectorConfigure(t *testing.T) {
	s := NewSelector(nil, 0)
	roles, _ := s.Select(context.Background(), "Build chat", chatCatalog())
	assert.NotContains(t, roles, Role("xenobiology"))

	p := &fakeProvider{response: "- xenobiology"}
	s.Configure(NewClassifier(p), time.Second)
	roles, trace := s.Select(context.Background(), "Build chat", chatCatalog())
	assert.Equal(t, []Role{"frontend", "backend", "xenobiology"}, roles)
	assert.Equal(t, "fake", trace.Provider)
	assert.Equal(t, 1, p.calls)
}

func TestClassifyWithoutProvider(t *testing.T) {
	_, err := NewClassifier(nil).Classify(context.Background(), "x", DefaultCatalog())
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrUnavailable))
}

func TestParseBullets(t *testing.T) {
	raw := "Here you go\n- frontend\n  * backend \n• legal\n– finance\n3. qa\n4) hr\n-nospace\n\\- escaped\n"
	assert.Equal(t, []string{"frontend", "backend", "legal", "finance", "qa", "hr", "escaped"}, parseBullets(raw))
}

func TestCatalogResolve(t *testing.T) {
	c := DefaultCatalog()

	r, ok := c.Resolve("  Data_Science ")
	require.True(t, ok)
	assert.Equal(t, Role("data_science"), r)

	r, ok = c.Resolve("React")
	require.True(t, ok)
	assert.Equal(t, Role("frontend"), r)

	_, ok = c.Resolve("xenobiology")
	assert.False(t, ok)
	assert.True(t, c.Known("support"))
	assert.False(t, c.Known("Support"))
	assert.Len(t, c.Roles(), 28)
}
