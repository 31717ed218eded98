package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-relief-fitness/internal/models"
	"github.com/mr1hm/go-relief-fitness/internal/predictor"
)

// SaveModel stores the artifact and makes it the active model in a single
// transaction, so readers see either the previous model or this one.
func (s *SQLiteDB) SaveModel(ctx context.Context, m *predictor.Model) error {
	artifact, err := predictor.Encode(m)
	if err != nil {
		return err
	}

	var r2 sql.NullFloat64
	if m.R2 != nil {
		r2 = sql.NullFloat64{Float64: *m.R2, Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO models (id, created_at, trees, train_size, test_size, r2, artifact)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.CreatedAt.UTC().Format(timeLayout), len(m.Forest.Trees), m.TrainSize, m.TestSize, r2, artifact,
		)
		if err != nil {
			return fmt.Errorf("error inserting model %s: %w", m.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO model_state (id, active_model_id) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET active_model_id = excluded.active_model_id`,
			m.ID,
		)
		if err != nil {
			return fmt.Errorf("error activating model %s: %w", m.ID, err)
		}
		return nil
	})
}

func (s *SQLiteDB) ActiveModel(ctx context.Context) (*predictor.Model, error) {
	var artifact []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT m.artifact FROM models m
		JOIN model_state st ON st.active_model_id = m.id
		WHERE st.id = 1`,
	).Scan(&artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrModelNotTrained
	}
	if err != nil {
		return nil, fmt.Errorf("error loading active model: %w", err)
	}
	return predictor.Decode(artifact)
}

// ListModels returns model metadata, newest first.
func (s *SQLiteDB) ListModels(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.created_at, m.trees, m.train_size, m.test_size, m.r2,
			COALESCE(st.active_model_id = m.id, 0)
		FROM models m
		LEFT JOIN model_state st ON st.id = 1
		ORDER BY m.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error querying models: %w", err)
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		var (
			info      ModelInfo
			createdAt string
			r2        sql.NullFloat64
		)
		if err := rows.Scan(&info.ID, &createdAt, &info.Trees, &info.TrainSize, &info.TestSize, &r2, &info.Active); err != nil {
			return nil, fmt.Errorf("error scanning model: %w", err)
		}
		if info.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("error parsing created_at for model %s: %w", info.ID, err)
		}
		if r2.Valid {
			v := r2.Float64
			info.R2 = &v
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// ModelStore exposes the model table as a predictor.Store.
func (s *SQLiteDB) ModelStore() predictor.Store {
	return modelStore{db: s}
}

type modelStore struct {
	db *SQLiteDB
}

func (m modelStore) Save(ctx context.Context, model *predictor.Model) error {
	return m.db.SaveModel(ctx, model)
}

func (m modelStore) Load(ctx context.Context) (*predictor.Model, error) {
	return m.db.ActiveModel(ctx)
}
