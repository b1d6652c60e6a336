// Package agent implements the team members of a pipeline run: the product
// owner that plans, the agile coach that reviews, and the domain experts
// that prepare their part of the work. Every agent records what it does in
// short-term memory under its own key.
package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mtzanidakis/aiteam/internal/memory"
)

// ErrInvalidInput reports an empty or otherwise unusable request.
var ErrInvalidInput = errors.New("invalid input")

const (
	KeyPlanner = "po"
	KeyCoach   = "ac"
)

// Base carries the identity and memory shared by all agents.
type Base struct {
	Name   string
	Role   string
	Memory memory.Gateway
	Graph  memory.Graph
}

// Observe appends content to the agent's short-term memory. Write failures
// are logged and otherwise ignored; they never stop a run. The write is
// detached from ctx cancellation so a closed client does not drop history.
func (b *Base) Observe(ctx context.Context, content string) {
	if b.Memory == nil {
		return
	}
	if err := b.Memory.Append(context.WithoutCancel(ctx), b.Name, content); err != nil {
		slog.Warn("memory append failed", "agent", b.Name, "error", err)
	}
}

// Note stores text in long-term memory. Failures are logged.
func (b *Base) Note(ctx context.Context, text string) {
	if b.Graph == nil {
		return
	}
	if err := b.Graph.UpsertNote(context.WithoutCancel(ctx), b.Name, text); err != nil {
		slog.Warn("knowledge graph note failed", "agent", b.Name, "error", err)
	}
}

// Think records and returns a short reflection on goal.
func (b *Base) Think(ctx context.Context, goal string) string {
	thought := "[" + b.Role + "] Considering: " + goal
	b.Observe(ctx, thought)
	return thought
}

// Act records and returns an action message for goal.
func (b *Base) Act(ctx context.Context, goal string) string {
	action := "[" + b.Role + "] Action for: " + goal
	b.Observe(ctx, action)
	return action
}
