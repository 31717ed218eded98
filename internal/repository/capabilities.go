package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

func (s *SQLiteDB) ReplaceCapabilities(ctx context.Context, t *models.CapabilityTable) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replaceCapabilities(ctx, tx, t)
	})
}

func replaceCapabilities(ctx context.Context, tx *sql.Tx, t *models.CapabilityTable) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ngo_capabilities`); err != nil {
		return fmt.Errorf("error clearing capabilities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ngos`); err != nil {
		return fmt.Errorf("error clearing ngos: %w", err)
	}

	ngoStmt, err := tx.PrepareContext(ctx, `INSERT INTO ngos (name_key, name) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer ngoStmt.Close()

	capStmt, err := tx.PrepareContext(ctx, `INSERT INTO ngo_capabilities (name_key, category, score) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer capStmt.Close()

	for _, r := range t.Rows {
		key := models.NormalizeName(r.Name)
		if _, err := ngoStmt.ExecContext(ctx, key, r.Name); err != nil {
			return fmt.Errorf("error inserting ngo %q: %w", r.Name, err)
		}
		for _, c := range t.Categories {
			if _, err := capStmt.ExecContext(ctx, key, c.Key(), r.Capabilities[c]); err != nil {
				return fmt.Errorf("error inserting capability %s for %q: %w", c.Key(), r.Name, err)
			}
		}
	}
	return nil
}

func (s *SQLiteDB) LoadCapabilities(ctx context.Context) (*models.CapabilityTable, error) {
	t := &models.CapabilityTable{}

	rows, err := s.db.QueryContext(ctx, `SELECT name_key, name FROM ngos ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("error querying ngos: %w", err)
	}
	index := make(map[string]int)
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning ngo: %w", err)
		}
		index[key] = len(t.Rows)
		t.Rows = append(t.Rows, models.NGOCapability{Name: name})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	present, err := s.fillVectors(ctx, `SELECT name_key, category, score FROM ngo_capabilities`, func(key string, c models.Category, v float64) {
		if i, ok := index[key]; ok {
			t.Rows[i].Capabilities[c] = v
		}
	})
	if err != nil {
		return nil, fmt.Errorf("error loading capabilities: %w", err)
	}
	t.Categories = present

	return t, nil
}
