package matching

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Scorer provides the comparison primitives used by the resolver.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets score 1.0 (nothing to
// disagree on); exactly one empty set scores 0.0.
func (s *Scorer) Jaccard(a, b normalizers.TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for token := range small {
		if large.Contains(token) {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// WithinWindow reports whether a and b are at most window apart. A zero time
// is unknown and never falls outside the window.
func (s *Scorer) WithinWindow(a, b time.Time, window time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}
