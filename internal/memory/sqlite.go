package memory

import (
	"context"

	"github.com/mtzanidakis/aiteam/internal/store"
)

// SQLite persists short-term memory in the memory table of the store.
type SQLite struct {
	store *store.Store
}

func NewSQLite(s *store.Store) *SQLite {
	return &SQLite{store: s}
}

func (g *SQLite) Append(ctx context.Context, agent, payload string) error {
	return g.store.AppendMemory(ctx, &store.MemoryItem{Agent: agent, Payload: payload})
}

func (g *SQLite) History(ctx context.Context, agent string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	items, err := g.store.GetMemory(ctx, agent, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(items))
	for _, it := range items {
		out = append(out, Record{Agent: it.Agent, Payload: it.Payload, Timestamp: it.CreatedAt})
	}
	return out, nil
}

// KnowledgeGraph stores notes as Agent-[NOTED]->Note edges in the store.
type KnowledgeGraph struct {
	store *store.Store
}

func NewKnowledgeGraph(s *store.Store) *KnowledgeGraph {
	return &KnowledgeGraph{store: s}
}

func (g *KnowledgeGraph) UpsertNote(ctx context.Context, agent, text string) error {
	return g.store.UpsertNote(ctx, agent, text)
}

func (g *KnowledgeGraph) Notes(ctx context.Context, agent string, limit int) ([]Note, error) {
	notes, err := g.store.GetNotes(ctx, agent, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(notes))
	for _, n := range notes {
		out = append(out, Note{Agent: n.Agent, Text: n.Text, CreatedAt: n.CreatedAt})
	}
	return out, nil
}
