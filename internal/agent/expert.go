package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/aiteam/internal/memory"
)

// Expert is a domain expert spun up for one role.
type Expert struct {
	Base
	Expertise string
}

func NewExpert(expertise string, mem memory.Gateway, graph memory.Graph) *Expert {
	return &Expert{
		Base:      Base{Name: ExpertKey(expertise), Role: "Expert", Memory: mem, Graph: graph},
		Expertise: expertise,
	}
}

// ExpertKey returns the memory key for an expert role.
func ExpertKey(expertise string) string {
	return "expert-" + expertise
}

func (e *Expert) Solve(ctx context.Context, task string) string {
	msg := "[" + e.Expertise + "] solving: " + task
	e.Observe(ctx, msg)
	return msg
}

// Team builds experts on demand against shared memory.
type Team struct {
	Memory memory.Gateway
	Graph  memory.Graph
}

// Prepare runs the prepare action of the expert for role.
func (t *Team) Prepare(ctx context.Context, role, description string) (string, error) {
	if strings.TrimSpace(role) == "" {
		return "", fmt.Errorf("prepare: %w: empty role", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("prepare %s: %w", role, err)
	}
	return NewExpert(role, t.Memory, t.Graph).Solve(ctx, "Prepare for: "+description), nil
}
