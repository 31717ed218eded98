// Package ingestion reads and writes the tabular inputs and outputs of the
// pipeline: damage, population and capability CSVs, the need matrix and the
// scored pairs.
package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

// table is a fully read CSV with a header index.
type table struct {
	name    string
	header  []string
	columns map[string]int // lower-cased, trimmed header -> index
	rows    [][]string
}

func readTable(r io.Reader, name string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &models.EmptyInputError{Table: name}
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s header: %w", name, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &table{
		name:    name,
		header:  header,
		columns: make(map[string]int, len(header)),
	}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := t.columns[key]; !dup {
			t.columns[key] = i
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", name, err)
		}
		if blank(rec) {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// require resolves the first of names present in the header.
func (t *table) require(names ...string) (int, error) {
	if i, ok := t.lookup(names...); ok {
		return i, nil
	}
	return 0, &models.MissingColumnError{Table: t.name, Column: names[0]}
}

func (t *table) lookup(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := t.columns[strings.ToLower(n)]; ok {
			return i, true
		}
	}
	return 0, false
}

// float parses rec[col] as a finite number; line is the 1-based data row used
// in errors.
func (t *table) float(rec []string, col, line int) (float64, error) {
	s := strings.TrimSpace(rec[col])
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, t.invalid(rec, col, line, "not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, t.invalid(rec, col, line, "not a finite number")
	}
	return v, nil
}

// bounded is float restricted to [lo, hi]. hi may be +Inf.
func (t *table) bounded(rec []string, col, line int, lo, hi float64) (float64, error) {
	v, err := t.float(rec, col, line)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, t.invalid(rec, col, line, rangeReason(lo, hi))
	}
	return v, nil
}

func (t *table) percent(rec []string, col, line int) (float64, error) {
	return t.bounded(rec, col, line, 0, 100)
}

func (t *table) nonNegative(rec []string, col, line int) (float64, error) {
	return t.bounded(rec, col, line, 0, math.Inf(1))
}

// optionalBounded is like bounded but reports ok=false for an empty cell.
func (t *table) optionalBounded(rec []string, col, line int, lo, hi float64) (float64, bool, error) {
	if strings.TrimSpace(rec[col]) == "" {
		return 0, false, nil
	}
	v, err := t.bounded(rec, col, line, lo, hi)
	return v, err == nil, err
}

func (t *table) invalid(rec []string, col, line int, reason string) error {
	return &models.InvalidValueError{
		Table:  t.name,
		Row:    strconv.Itoa(line),
		Column: t.header[col],
		Value:  strings.TrimSpace(rec[col]),
		Reason: reason,
	}
}

func rangeReason(lo, hi float64) string {
	if math.IsInf(hi, 1) {
		return "must be at least " + formatFloat(lo)
	}
	return fmt.Sprintf("outside [%s, %s]", formatFloat(lo), formatFloat(hi))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
