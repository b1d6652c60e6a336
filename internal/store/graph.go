package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Note is a long-term memory node linked to an agent by a NOTED edge.
type Note struct {
	ID        int64     `json:"id"`
	Agent     string    `json:"agent"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

const relNoted = "NOTED"

// UpsertNote merges the agent node and creates a new note node linked to it.
func (s *Store) UpsertNote(ctx context.Context, agent, text string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO kg_nodes (label, name) VALUES ('Agent', ?)`, agent); err != nil {
		return fmt.Errorf("merge agent node: %w", err)
	}

	var agentID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM kg_nodes WHERE label = 'Agent' AND name = ?`, agent).Scan(&agentID); err != nil {
		return fmt.Errorf("lookup agent node: %w", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO kg_nodes (label, text) VALUES ('Note', ?)`, text)
	if err != nil {
		return fmt.Errorf("create note node: %w", err)
	}
	noteID, _ := res.LastInsertId()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kg_edges (from_id, to_id, rel) VALUES (?, ?, ?)`, agentID, noteID, relNoted); err != nil {
		return fmt.Errorf("link note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit note: %w", err)
	}
	return nil
}

// GetNotes returns the most recent notes of an agent, newest first.
func (s *Store) GetNotes(ctx context.Context, agent string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, a.name, n.text, n.created_at
		FROM kg_nodes a
		JOIN kg_edges e ON e.from_id = a.id AND e.rel = ?
		JOIN kg_nodes n ON n.id = e.to_id
		WHERE a.label = 'Agent' AND a.name = ?
		ORDER BY n.id DESC
		LIMIT ?`, relNoted, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("get notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var text sql.NullString
		if err := rows.Scan(&n.ID, &n.Agent, &text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Text = text.String
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
