package models

// MatchKind records how a field-set was resolved.
type MatchKind string

const (
	MatchKindOrderNumber    MatchKind = "order_number"
	MatchKindTrackingNumber MatchKind = "tracking_number"
	MatchKindFuzzy          MatchKind = "fuzzy"
	MatchKindNone           MatchKind = "none"
)

// Resolution is the outcome of resolving one field-set against a tenant's
// existing orders. OrderKey is empty when nothing matched.
type Resolution struct {
	OrderKey   string    `json:"order_key,omitempty"`
	Kind       MatchKind `json:"kind"`
	Similarity float64   `json:"similarity,omitempty"`
}

// Matched reports whether an existing order was found.
func (r Resolution) Matched() bool {
	return r.OrderKey != ""
}

// MatchStats counts resolution outcomes for a batch.
type MatchStats struct {
	IdentityMatch  int `json:"identity_match"`
	FuzzyMatch     int `json:"fuzzy_match"`
	ConflictReject int `json:"conflict_reject"`
	WindowReject   int `json:"window_reject"`
	BelowThreshold int `json:"below_threshold"`
	NoMatch        int `json:"no_match"`
}

// Add accumulates other into s.
func (s *MatchStats) Add(other MatchStats) {
	s.IdentityMatch += other.IdentityMatch
	s.FuzzyMatch += other.FuzzyMatch
	s.ConflictReject += other.ConflictReject
	s.WindowReject += other.WindowReject
	s.BelowThreshold += other.BelowThreshold
	s.NoMatch += other.NoMatch
}
