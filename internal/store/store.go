package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/aiteam/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they go in the
	// DSN where every pooled connection picks them up.
	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Snapshot writes a consistent copy of the database to path, which must not
// exist yet.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot target %s already exists", path)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS memory (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent       TEXT NOT NULL,
			payload     TEXT NOT NULL,
			created_at  DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_agent ON memory(agent, id)`,
		`CREATE TABLE IF NOT EXISTS kg_nodes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			label       TEXT NOT NULL,
			name        TEXT,
			text        TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_kg_agent_name ON kg_nodes(label, name) WHERE label = 'Agent'`,
		`CREATE TABLE IF NOT EXISTS kg_edges (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			from_id     INTEGER NOT NULL REFERENCES kg_nodes(id) ON DELETE CASCADE,
			to_id       INTEGER NOT NULL REFERENCES kg_nodes(id) ON DELETE CASCADE,
			rel         TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kg_edges_from ON kg_edges(from_id, rel)`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id           TEXT PRIMARY KEY,
			description  TEXT NOT NULL,
			status       TEXT DEFAULT 'running',
			mode         TEXT,
			roles        TEXT,
			result       TEXT,
			error        TEXT,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
