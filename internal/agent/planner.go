package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/aiteam/internal/memory"
)

// Planner is the product owner. It breaks a description into sub-tasks.
type Planner struct {
	Base
}

func NewPlanner(mem memory.Gateway, graph memory.Graph) *Planner {
	return &Planner{Base{Name: KeyPlanner, Role: "Product Owner", Memory: mem, Graph: graph}}
}

// Plan returns the ordered sub-tasks for description. The result always has
// at least one entry.
func (p *Planner) Plan(ctx context.Context, description string) ([]string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("plan: %w: empty description", ErrInvalidInput)
	}

	p.Observe(ctx, "planning: "+description)
	tasks := []string{
		"Define acceptance criteria for: " + description,
		"Identify needed experts for: " + description,
	}
	p.Note(ctx, fmt.Sprintf("planned %d task(s) for: %s", len(tasks), description))
	return tasks, nil
}
