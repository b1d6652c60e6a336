package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PipelineRun struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Mode        string          `json:"mode,omitempty"`
	Roles       json.RawMessage `json:"roles,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func scanPipelineRun(scanner interface {
	Scan(dest ...any) error
}) (*PipelineRun, error) {
	r := &PipelineRun{}
	var mode, roles, result, errText *string
	err := scanner.Scan(&r.ID, &r.Description, &r.Status, &mode, &roles, &result, &errText, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if mode != nil {
		r.Mode = *mode
	}
	if roles != nil {
		r.Roles = json.RawMessage(*roles)
	}
	if result != nil {
		r.Result = json.RawMessage(*result)
	}
	if errText != nil {
		r.Error = *errText
	}
	return r, nil
}

const runColumns = `id, description, status, mode, roles, result, error, started_at, completed_at`

func (s *Store) SavePipelineRun(r *PipelineRun) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, description, status, mode, roles, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			mode = excluded.mode,
			roles = excluded.roles,
			result = excluded.result,
			error = excluded.error,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Description, r.Status, nullString(r.Mode), nullRaw(r.Roles), nullRaw(r.Result), nullString(r.Error))
	if err != nil {
		return fmt.Errorf("save pipeline run: %w", err)
	}
	return nil
}

func (s *Store) GetPipelineRun(id string) (*PipelineRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id)
	r, err := scanPipelineRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline run: %w", err)
	}
	return r, nil
}

func (s *Store) ListPipelineRuns(limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		r, err := scanPipelineRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeletePipelineRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM pipeline_runs WHERE id = ?`, id)
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}
