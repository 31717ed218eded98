package ingestion

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/mr1hm/go-relief-fitness/internal/models"
)

const CapabilityTable = "ngo_capabilities"

// Format is the layout of a capability CSV.
type Format string

const (
	// FormatWide has one row per NGO and one column per category.
	FormatWide Format = "wide"
	// FormatLong has one row per (ngo_name, category, capacity_score).
	FormatLong Format = "long"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatWide, "":
		return FormatWide, nil
	case FormatLong:
		return FormatLong, nil
	default:
		return "", fmt.Errorf("unknown capability format %q (want wide or long)", s)
	}
}

// ReadCapabilities parses a capability table in the given layout. Columns
// that do not name a category are ignored.
func ReadCapabilities(r io.Reader, format Format) (*models.CapabilityTable, error) {
	t, err := readTable(r, CapabilityTable)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatLong:
		return pivotLong(t)
	case FormatWide, "":
		return readWide(t)
	default:
		return nil, fmt.Errorf("unknown capability format %q", format)
	}
}

func readWide(t *table) (*models.CapabilityTable, error) {
	nameCol, err := t.require("NGO", "ngo_name")
	if err != nil {
		return nil, err
	}

	type column struct {
		index int
		cat   models.Category
	}
	var (
		cols []column
		seen [models.NumCategories]bool
	)
	for i, h := range t.header {
		if i == nameCol {
			continue
		}
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

	b := newCapabilityBuilder()
	for i, rec := range t.rows {
		var v models.Vector
		for _, c := range cols {
			score, _, err := t.optionalBounded(rec, c.index, i+1, 0, math.Inf(1))
			if err != nil {
				return nil, err
			}
			v[c.cat] = score
		}
		b.set(strings.TrimSpace(rec[nameCol]), v)
	}

	table := b.table()
	for _, c := range models.AllCategories() {
		if seen[c] {
			table.Categories = append(table.Categories, c)
		}
	}
	return table, nil
}

// pivotLong turns (ngo_name, category, capacity_score) rows into a wide table
// carrying all eleven categories; absent cells are 0 and a repeated
// (ngo, category) keeps the last value.
func pivotLong(t *table) (*models.CapabilityTable, error) {
	nameCol, err := t.require("ngo_name", "NGO")
	if err != nil {
		return nil, err
	}
	catCol, err := t.require("category")
	if err != nil {
		return nil, err
	}
	scoreCol, err := t.require("capacity_score")
	if err != nil {
		return nil, err
	}
	if len(t.rows) == 0 {
		return nil, &models.EmptyInputError{Table: t.name}
	}

	b := newCapabilityBuilder()
	for i, rec := range t.rows {
		name := strings.TrimSpace(rec[nameCol])
		v := b.get(name)
		if c, ok := models.ParseCategory(rec[catCol]); ok {
			score, err := t.nonNegative(rec, scoreCol, i+1)
			if err != nil {
				return nil, err
			}
			v[c] = score
		}
		b.set(name, v)
	}

	table := b.table()
	table.Categories = models.AllCategories()
	return table, nil
}

// capabilityBuilder keeps NGOs in first-seen order and lets later rows
// overwrite earlier ones with the same normalized name.
type capabilityBuilder struct {
	index map[string]int
	rows  []models.NGOCapability
}

func newCapabilityBuilder() *capabilityBuilder {
	return &capabilityBuilder{index: make(map[string]int)}
}

func (b *capabilityBuilder) get(name string) models.Vector {
	if i, ok := b.index[models.NormalizeName(name)]; ok {
		return b.rows[i].Capabilities
	}
	return models.Vector{}
}

func (b *capabilityBuilder) set(name string, v models.Vector) {
	key := models.NormalizeName(name)
	if i, ok := b.index[key]; ok {
		b.rows[i].Capabilities = v
		return
	}
	b.index[key] = len(b.rows)
	b.rows = append(b.rows, models.NGOCapability{Name: name, Capabilities: v})
}

func (b *capabilityBuilder) table() *models.CapabilityTable {
	return &models.CapabilityTable{Rows: b.rows}
}
