package store

import (
	"context"
	"fmt"
	"time"
)

// MemoryItem is one short-term memory entry for an agent.
type MemoryItem struct {
	ID        int64     `json:"id"`
	Agent     string    `json:"agent"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) AppendMemory(ctx context.Context, item *MemoryItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO memory (agent, payload, created_at)
		VALUES (?, ?, ?)`,
		item.Agent, item.Payload, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	item.ID, _ = result.LastInsertId()
	return nil
}

// GetMemory returns the most recent limit items for agent, oldest first.
func (s *Store) GetMemory(ctx context.Context, agent string, limit int) ([]MemoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, payload, created_at
		FROM memory
		WHERE agent = ?
		ORDER BY id DESC
		LIMIT ?`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	defer rows.Close()

	var items []MemoryItem
	for rows.Next() {
		var m MemoryItem
		if err := rows.Scan(&m.ID, &m.Agent, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		items = append(items, m)
	}

	// Reverse to get chronological order
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, rows.Err()
}

type AgentMemoryStats struct {
	Agent      string
	ItemCount  int
	LastActive time.Time
}

func (s *Store) GetMemoryStats(ctx context.Context) (map[string]AgentMemoryStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, COUNT(*) as cnt, MAX(id) as last_id
		FROM memory
		GROUP BY agent`)
	if err != nil {
		return nil, fmt.Errorf("get memory stats: %w", err)
	}
	defer rows.Close()

	lastIDs := make(map[string]int64)
	stats := make(map[string]AgentMemoryStats)
	for rows.Next() {
		var st AgentMemoryStats
		var lastID int64
		if err := rows.Scan(&st.Agent, &st.ItemCount, &lastID); err != nil {
			return nil, fmt.Errorf("scan memory stats: %w", err)
		}
		stats[st.Agent] = st
		lastIDs[st.Agent] = lastID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for agent, id := range lastIDs {
		var ts time.Time
		if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM memory WHERE id = ?`, id).Scan(&ts); err != nil {
			return nil, fmt.Errorf("get last active: %w", err)
		}
		st := stats[agent]
		st.LastActive = ts
		stats[agent] = st
	}
	return stats, nil
}
