package models

import (
	"regexp"
	"strings"
)

// Category is one of the eleven relief domains. The numeric value is the
// index into a Vector and must stay stable across releases.
type Category int

const (
	CategoryShelter Category = iota
	CategoryWash
	CategoryFood
	CategoryLogistics
	CategoryRescue
	CategoryHealth
	CategoryCash
	CategoryComms
	CategoryPsych
	CategoryInfra
	CategoryAgri
)

const NumCategories = 11

// CategorySchemaVersion is bumped whenever the category set or its order changes.
// Persisted models record it so a model trained against a different layout is rejected.
const CategorySchemaVersion = 1

var categoryLabels = [NumCategories]string{
	"Emergency Shelter & Housing",
	"Water & Sanitation Recovery",
	"Emergency Food Distribution",
	"Emergency Logistics & Transportation",
	"Search Rescue & Evacuation",
	"Emergency Health Response",
	"Immediate Cash Assistance",
	"Emergency Communications",
	"Psychosocial First Aid",
	"Critical Infrastructure Restoration",
	"Agricultural Recovery",
}

var categoryKeys = [NumCategories]string{
	"shelter",
	"wash",
	"food",
	"logistics",
	"rescue",
	"health",
	"cash",
	"comms",
	"psych",
	"infra",
	"agri",
}

var headerCleaner = regexp.MustCompile(`[^0-9A-Za-z &]+`)

func AllCategories() []Category {
	cats := make([]Category, NumCategories)
	for i := range cats {
		cats[i] = Category(i)
	}
	return cats
}

func (c Category) Valid() bool {
	return c >= 0 && int(c) < NumCategories
}

// Label is the human-readable column name used in CSV files.
func (c Category) Label() string {
	if !c.Valid() {
		return "unknown"
	}
	return categoryLabels[c]
}

// Key is the snake_case identifier used in storage and query parameters.
func (c Category) Key() string {
	if !c.Valid() {
		return "unknown"
	}
	return categoryKeys[c]
}

func (c Category) String() string {
	return c.Label()
}

// CleanHeader strips everything except letters, digits, spaces and '&' and
// collapses whitespace, so "Search, Rescue & Evacuation" and
// "Search Rescue & Evacuation" compare equal.
func CleanHeader(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = headerCleaner.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// ParseCategory resolves a column header or key to a Category. It accepts the
// label (case-insensitive, after CleanHeader), the key, and "<key>_need".
func ParseCategory(s string) (Category, bool) {
	cleaned := strings.ToLower(CleanHeader(s))
	key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_need")
	for i := 0; i < NumCategories; i++ {
		if cleaned == strings.ToLower(categoryLabels[i]) || key == categoryKeys[i] {
			return Category(i), true
		}
	}
	return 0, false
}

// Vector holds one value per category, indexed by Category.
type Vector [NumCategories]float64

// Project returns the components of v for cats, in the order given.
func (v Vector) Project(cats []Category) []float64 {
	out := make([]float64, len(cats))
	for i, c := range cats {
		out[i] = v[c]
	}
	return out
}

// IntersectCategories returns the categories present in both a and b, in
// enumeration order.
func IntersectCategories(a, b []Category) []Category {
	var inA, inB [NumCategories]bool
	for _, c := range a {
		if c.Valid() {
			inA[c] = true
		}
	}
	for _, c := range b {
		if c.Valid() {
			inB[c] = true
		}
	}
	var out []Category
	for i := 0; i < NumCategories; i++ {
		if inA[i] && inB[i] {
			out = append(out, Category(i))
		}
	}
	return out
}
