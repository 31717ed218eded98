package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *SQLiteDB) RecordRun(ctx context.Context, r *Run) error {
	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, stage, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, stage) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		r.ID, r.Stage, r.Status, errText,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("error recording run %s/%s: %w", r.ID, r.Stage, err)
	}
	return nil
}

// ListRuns returns the most recent stage executions first.
func (s *SQLiteDB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stage, status, error, started_at, finished_at
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			errText           sql.NullString
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &errText, &started, &finished); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}
		r.Error = errText.String
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
