// Package normalizers provides text normalization used for order keys and
// fuzzy matching.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = map[string]Normalizer{
	"fold":       Fold,
	"identifier": Identifier,
	"name":       NormalizeName,
	"domain":     NormalizeDomain,
}

// Apply applies a named normalizer to a value. Unknown names are a no-op.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// Fold strips combining marks so "Café" and "Cafe" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// Identifier canonicalizes an order or tracking number for index lookups.
func Identifier(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeName lowercases, folds accents and collapses everything that is
// not a letter or digit into single spaces.
func NormalizeName(s string) string {
	s = strings.ToLower(Fold(s))

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			result.WriteRune(' ')
			prevSpace = true
		}
	}

	return strings.TrimSpace(result.String())
}
