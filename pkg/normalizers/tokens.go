package normalizers

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinTokenLength is the shortest token kept by Tokenize.
const MinTokenLength = 3

var stopWords = map[string]struct{}{
	// articles
	"the": {}, "an": {}, "a": {},
	// prepositions
	"for": {}, "with": {}, "from": {}, "into": {}, "onto": {}, "over": {},
	"under": {}, "about": {}, "after": {}, "before": {}, "via": {}, "per": {},
	"off": {}, "out": {}, "upon": {}, "within": {}, "without": {},
	// possessives and pronouns
	"your": {}, "yours": {}, "our": {}, "ours": {}, "their": {}, "his": {},
	"her": {}, "its": {}, "my": {},
	// conjunctions
	"and": {}, "but": {}, "nor": {}, "yet": {},
}

// TokenSet is an unordered set of normalized tokens.
type TokenSet map[string]struct{}

// NewTokenSet builds a set from tokens as given.
func NewTokenSet(tokens ...string) TokenSet {
	set := make(TokenSet, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Contains reports whether token is in the set.
func (t TokenSet) Contains(token string) bool {
	_, ok := t[token]
	return ok
}

// Sorted returns the tokens in lexical order.
func (t TokenSet) Sorted() []string {
	out := make([]string, 0, len(t))
	for token := range t {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Tokenize lowercases and folds s, splits it on anything that is not a
// letter or digit, and keeps tokens of at least MinTokenLength runes that are
// not stop words.
func Tokenize(s string) TokenSet {
	set := make(TokenSet)
	if s == "" {
		return set
	}

	s = strings.ToLower(Fold(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if utf8.RuneCountInString(f) < MinTokenLength {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}
