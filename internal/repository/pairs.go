package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

// ReplacePairs swaps the stored scored pairs for the output of one run.
func (s *SQLiteDB) ReplacePairs(ctx context.Context, runID string, pairs []models.ScoredPair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replacePairs(ctx, tx, runID, pairs)
	})
}

// ReplaceScores stores the capability table a run scored against together
// with its pairs in one transaction. A nil table keeps the stored one.
func (s *SQLiteDB) ReplaceScores(ctx context.Context, runID string, caps *models.CapabilityTable, pairs []models.ScoredPair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if caps != nil {
			if err := replaceCapabilities(ctx, tx, caps); err != nil {
				return err
			}
		}
		return replacePairs(ctx, tx, runID, pairs)
	})
}

func replacePairs(ctx context.Context, tx *sql.Tx, runID string, pairs []models.ScoredPair) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM scored_pairs`); err != nil {
		return fmt.Errorf("error clearing scored pairs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scored_pairs (ngo_key, district_key, ngo, district, match_score, urgency, fitness, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range pairs {
		_, err := stmt.ExecContext(ctx,
			models.NormalizeName(p.NGO), models.NormalizeName(p.District),
			p.NGO, p.District, p.Match, p.Urgency, p.Fitness, runID,
		)
		if err != nil {
			return fmt.Errorf("error inserting pair %q/%q: %w", p.NGO, p.District, err)
		}
	}
	return nil
}

func (s *SQLiteDB) ListPairs(ctx context.Context, opts Filter) ([]models.ScoredPair, error) {
	var (
		where []string
		args  []any
	)
	if opts.NGO != nil {
		where = append(where, "ngo_key = ?")
		args = append(args, models.NormalizeName(*opts.NGO))
	}
	if opts.District != nil {
		where = append(where, "district_key = ?")
		args = append(args, models.NormalizeName(*opts.District))
	}
	if opts.MinFitness != nil {
		where = append(where, "fitness >= ?")
		args = append(args, *opts.MinFitness)
	}

	query := `SELECT ngo, district, match_score, urgency, fitness FROM scored_pairs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ngo_key, district_key"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying scored pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.ScoredPair
	for rows.Next() {
		var p models.ScoredPair
		if err := rows.Scan(&p.NGO, &p.District, &p.Match, &p.Urgency, &p.Fitness); err != nil {
			return nil, fmt.Errorf("error scanning scored pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
