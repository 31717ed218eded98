package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (creating if needed) the database at path and applies
// the schema. Missing parent directories of a file path are created.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if !strings.HasPrefix(path, ":memory:") && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS districts (
			name_key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			latitude REAL,
			longitude REAL
		);

		CREATE TABLE IF NOT EXISTS district_needs (
			name_key TEXT NOT NULL,
			category TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (name_key, category)
		);

		CREATE TABLE IF NOT EXISTS ngos (
			name_key TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ngo_capabilities (
			name_key TEXT NOT NULL,
			category TEXT NOT NULL,
			score REAL NOT NULL,
			PRIMARY KEY (name_key, category)
		);

		CREATE TABLE IF NOT EXISTS scored_pairs (
			ngo_key TEXT NOT NULL,
			district_key TEXT NOT NULL,
			ngo TEXT NOT NULL,
			district TEXT NOT NULL,
			match_score REAL NOT NULL,
			urgency REAL NOT NULL,
			fitness REAL NOT NULL,
			run_id TEXT NOT NULL,
			PRIMARY KEY (ngo_key, district_key)
		);

		CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			trees INTEGER NOT NULL,
			train_size INTEGER NOT NULL,
			test_size INTEGER NOT NULL,
			r2 REAL,
			artifact BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS model_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			active_model_id TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			PRIMARY KEY (id, stage)
		);

		CREATE INDEX IF NOT EXISTS idx_scored_pairs_district ON scored_pairs(district_key);
		CREATE INDEX IF NOT EXISTS idx_scored_pairs_fitness ON scored_pairs(fitness);
		CREATE INDEX IF NOT EXISTS idx_models_created_at ON models(created_at);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, rolling back if fn fails.
func (s *SQLiteDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
