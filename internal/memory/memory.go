// Package memory provides the short-term and long-term memory stores shared
// by all agents.
//
// Short-term memory is an append-only log per agent key. History returns the
// most recent records oldest-first. Long-term memory is a small knowledge
// graph of agents and the notes they recorded.
package memory

import (
	"context"
	"time"
)

// DefaultHistoryLimit is used when History is called with limit <= 0.
const DefaultHistoryLimit = 20

// Record is one appended short-term memory entry.
type Record struct {
	Agent     string    `json:"agent"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Gateway is the uniform read/append interface over short-term memory.
// Append must be safe for concurrent use.
type Gateway interface {
	Append(ctx context.Context, agent, payload string) error
	History(ctx context.Context, agent string, limit int) ([]Record, error)
}

// Note is a long-term memory entry.
type Note struct {
	Agent     string    `json:"agent"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Graph is the long-term memory store.
type Graph interface {
	UpsertNote(ctx context.Context, agent, text string) error
	Notes(ctx context.Context, agent string, limit int) ([]Note, error)
}

// NopGraph discards notes. Used when long-term memory is not configured.
type NopGraph struct{}

func (NopGraph) UpsertNote(context.Context, string, string) error { return nil }

func (NopGraph) Notes(context.Context, string, int) ([]Note, error) { return nil, nil }

// Payloads returns the payload text of each record.
func Payloads(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Payload
	}
	return out
}
