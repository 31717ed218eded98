package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName produces the lookup key for district and NGO names:
// diacritics removed, lower-cased, whitespace trimmed and collapsed.
// Example: "  Sindhupālchok " -> "sindhupalchok".
func NormalizeName(name string) string {
	if name == "" {
		return name
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, name)
	if err != nil {
		normalized = name
	}

	return strings.ToLower(strings.Join(strings.Fields(normalized), " "))
}
