package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

const (
	NeedsTable = "regional_needs"
	PairsTable = "ngo_region_scores"
)

var pairHeader = []string{"NGO", "district", "match", "urgency", "fitness_score"}

// WriteNeeds writes the need matrix as district, latitude, longitude and one
// column per carried category, labelled with the category label.
func WriteNeeds(w io.Writer, m *models.NeedMatrix) error {
	cw := csv.NewWriter(w)

	header := []string{"district", "latitude", "longitude"}
	for _, c := range m.Categories {
		header = append(header, c.Label())
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("error writing needs header: %w", err)
	}

	for _, row := range m.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.District)
		if row.Location != nil {
			rec = append(rec, formatFloat(row.Location.Latitude), formatFloat(row.Location.Longitude))
		} else {
			rec = append(rec, "", "")
		}
		for _, v := range row.Needs.Project(m.Categories) {
			rec = append(rec, formatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("error writing needs row %q: %w", row.District, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadNeeds reads a need matrix written by WriteNeeds. Category columns are
// matched the same way capability headers are, so label, cleaned label and
// snake_case key (with or without a _need suffix) are all accepted.
func ReadNeeds(r io.Reader) (*models.NeedMatrix, error) {
	t, err := readTable(r, NeedsTable)
	if err != nil {
		return nil, err
	}
	nameCol, err := t.require("district")
	if err != nil {
		return nil, err
	}
	latCol, hasLat := t.lookup("latitude")
	lonCol, hasLon := t.lookup("longitude")

	type column struct {
		index int
		cat   models.Category
	}
	var (
		cols []column
		seen [models.NumCategories]bool
	)
	for i, h := range t.header {
		c, ok := models.ParseCategory(h)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, column{index: i, cat: c})
	}
	if len(t.rows) == 0 {
		return nil, &models.EmptyInputError{Table: t.name}
	}

	m := &models.NeedMatrix{}
	for _, c := range models.AllCategories() {
		if seen[c] {
			m.Categories = append(m.Categories, c)
		}
	}
	for i, rec := range t.rows {
		line := i + 1
		row := models.DistrictNeed{District: strings.TrimSpace(rec[nameCol])}
		for _, c := range cols {
			v, err := t.percent(rec, c.index, line)
			if err != nil {
				return nil, err
			}
			row.Needs[c.cat] = v
		}
		if hasLat && hasLon {
			lat, okLat, err := t.optionalBounded(rec, latCol, line, -90, 90)
			if err != nil {
				return nil, err
			}
			lon, okLon, err := t.optionalBounded(rec, lonCol, line, -180, 180)
			if err != nil {
				return nil, err
			}
			if okLat && okLon {
				row.Location = &models.Coordinates{Latitude: lat, Longitude: lon}
			}
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

func WritePairs(w io.Writer, pairs []models.ScoredPair) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pairHeader); err != nil {
		return fmt.Errorf("error writing pairs header: %w", err)
	}
	for _, p := range pairs {
		rec := []string{p.NGO, p.District, formatFloat(p.Match), formatFloat(p.Urgency), formatFloat(p.Fitness)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("error writing pair %q/%q: %w", p.NGO, p.District, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPairs reads a scored-pairs table with the columns written by WritePairs.
func ReadPairs(r io.Reader) ([]models.ScoredPair, error) {
	t, err := readTable(r, PairsTable)
	if err != nil {
		return nil, err
	}
	var cols [5]int
	for i, name := range pairHeader {
		if cols[i], err = t.require(name); err != nil {
			return nil, err
		}
	}

	out := make([]models.ScoredPair, 0, len(t.rows))
	for i, rec := range t.rows {
		line := i + 1
		p := models.ScoredPair{
			NGO:      strings.TrimSpace(rec[cols[0]]),
			District: strings.TrimSpace(rec[cols[1]]),
		}
		for j, dst := range []*float64{&p.Match, &p.Urgency, &p.Fitness} {
			if *dst, err = t.float(rec, cols[j+2], line); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, nil
}
