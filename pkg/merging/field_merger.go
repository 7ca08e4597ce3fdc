package merging

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// policyKeywords mark an evidence snippet as a quote of the return policy.
var policyKeywords = []string{"return", "refund", "days", "policy"}

// FieldMerger holds the per-field precedence strategies.
type FieldMerger struct{}

// NewFieldMerger creates a new FieldMerger
func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// Longest returns whichever string has more runes. Ties keep existing.
// The bool reports whether incoming won.
func (m *FieldMerger) Longest(existing, incoming *string) (*string, bool) {
	if isBlank(incoming) {
		return existing, false
	}
	if isBlank(existing) {
		return incoming, true
	}
	if utf8.RuneCountInString(*incoming) > utf8.RuneCountInString(*existing) {
		return incoming, true
	}
	return existing, false
}

// PolicyEvidence returns incoming only when it quotes a return policy.
func (m *FieldMerger) PolicyEvidence(existing, incoming *string) (*string, bool) {
	if isBlank(incoming) || !HasPolicyKeyword(*incoming) {
		return existing, false
	}
	if existing != nil && *existing == *incoming {
		return existing, false
	}
	return incoming, true
}

// AppendUnique appends id unless it is already present. The input slice is
// not modified.
func (m *FieldMerger) AppendUnique(ids []string, id string) ([]string, bool) {
	if id == "" || slices.Contains(ids, id) {
		return ids, false
	}
	out := make([]string, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, id), true
}

// HasPolicyKeyword reports whether s mentions returns, refunds, day counts
// or a policy.
func HasPolicyKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range policyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// fillIfEmpty copies incoming into dst only when dst is unset. Zero values
// count as unset on both sides.
func fillIfEmpty[T comparable](dst **T, incoming *T) bool {
	var zero T
	if incoming == nil || *incoming == zero {
		return false
	}
	if *dst != nil && **dst != zero {
		return false
	}
	v := *incoming
	*dst = &v
	return true
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
