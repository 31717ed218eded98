package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

// ReplaceNeeds swaps the stored need matrix for m in one transaction.
func (s *SQLiteDB) ReplaceNeeds(ctx context.Context, m *models.NeedMatrix) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM district_needs`); err != nil {
			return fmt.Errorf("error clearing district needs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM districts`); err != nil {
			return fmt.Errorf("error clearing districts: %w", err)
		}

		districtStmt, err := tx.PrepareContext(ctx, `INSERT INTO districts (name_key, name, latitude, longitude) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer districtStmt.Close()

		needStmt, err := tx.PrepareContext(ctx, `INSERT INTO district_needs (name_key, category, value) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer needStmt.Close()

		for _, r := range m.Rows {
			key := models.NormalizeName(r.District)
			var lat, lon sql.NullFloat64
			if r.Location != nil {
				lat = sql.NullFloat64{Float64: r.Location.Latitude, Valid: true}
				lon = sql.NullFloat64{Float64: r.Location.Longitude, Valid: true}
			}
			if _, err := districtStmt.ExecContext(ctx, key, r.District, lat, lon); err != nil {
				return fmt.Errorf("error inserting district %q: %w", r.District, err)
			}
			for _, c := range m.Categories {
				if _, err := needStmt.ExecContext(ctx, key, c.Key(), r.Needs[c]); err != nil {
					return fmt.Errorf("error inserting need %s for %q: %w", c.Key(), r.District, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLiteDB) LoadNeeds(ctx context.Context) (*models.NeedMatrix, error) {
	m := &models.NeedMatrix{}

	rows, err := s.db.QueryContext(ctx, `SELECT name_key, name, latitude, longitude FROM districts ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("error querying districts: %w", err)
	}
	index := make(map[string]int)
	for rows.Next() {
		var (
			key, name string
			lat, lon  sql.NullFloat64
		)
		if err := rows.Scan(&key, &name, &lat, &lon); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning district: %w", err)
		}
		row := models.DistrictNeed{District: name}
		if lat.Valid && lon.Valid {
			row.Location = &models.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
		}
		index[key] = len(m.Rows)
		m.Rows = append(m.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	present, err := s.fillVectors(ctx, `SELECT name_key, category, value FROM district_needs`, func(key string, c models.Category, v float64) {
		if i, ok := index[key]; ok {
			m.Rows[i].Needs[c] = v
		}
	})
	if err != nil {
		return nil, fmt.Errorf("error loading district needs: %w", err)
	}
	m.Categories = present

	return m, nil
}

// fillVectors streams (key, category, value) rows into set and returns the
// categories seen, in enumeration order.
func (s *SQLiteDB) fillVectors(ctx context.Context, query string, set func(key string, c models.Category, v float64)) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seen [models.NumCategories]bool
	for rows.Next() {
		var (
			key, category string
			value         float64
		)
		if err := rows.Scan(&key, &category, &value); err != nil {
			return nil, err
		}
		c, ok := models.ParseCategory(category)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", category)
		}
		seen[c] = true
		set(key, c, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var present []models.Category
	for i, ok := range seen {
		if ok {
			present = append(present, models.Category(i))
		}
	}
	return present, nil
}
