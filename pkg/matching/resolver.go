// Package matching decides whether an incoming field-set belongs to an
// existing order. Identity matches on order or tracking number come first;
// fuzzy matching on item text within the same merchant is the fallback.
package matching

import (
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/identifiers"
	"github.com/Ramsey-B/fern/pkg/index"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Config contains the fuzzy matching tunables.
type Config struct {
	// SimilarityThreshold is the minimum Jaccard score to accept (default: 0.5)
	SimilarityThreshold float64
	// Window is the maximum match time difference (default: 14 days)
	Window time.Duration
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.5,
		Window:              14 * 24 * time.Hour,
	}
}

// Validate rejects tunables outside their range. A zero threshold accepts any
// same-merchant candidate and a zero window only accepts identical times.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0, 1], got %v", c.SimilarityThreshold)
	}
	if c.Window < 0 {
		return fmt.Errorf("match window must not be negative, got %s", c.Window)
	}
	return nil
}

// Resolver resolves field-sets against a tenant's orders. It performs no
// I/O; orders and indexes are passed in by the caller.
type Resolver struct {
	cfg    Config
	scorer *Scorer
}

// NewResolver creates a resolver with cfg as given; callers validate it.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg, scorer: NewScorer()}
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Resolve returns the key of the order in matches, or a Resolution with an
// empty key when the field-set describes a new order. orders is keyed by
// order key. stats may be nil.
func (r *Resolver) Resolve(in *models.FieldSet, orders map[string]*models.Order, idx *index.Indexes, stats *models.MatchStats) models.Resolution {
	if stats == nil {
		stats = &models.MatchStats{}
	}
	if idx == nil {
		idx = index.New()
	}

	orderNumber := identifiers.Effective(in.OrderNumber, in.ItemSummary, identifiers.ExtractOrderNumber)
	if key, ok := idx.LookupOrderNumber(orderNumber); ok {
		stats.IdentityMatch++
		return models.Resolution{OrderKey: key, Kind: models.MatchKindOrderNumber}
	}

	trackingNumber := identifiers.Effective(in.TrackingNumber, in.ItemSummary, identifiers.ExtractTrackingNumber)
	if key, ok := idx.LookupTrackingNumber(trackingNumber); ok {
		stats.IdentityMatch++
		return models.Resolution{OrderKey: key, Kind: models.MatchKindTrackingNumber}
	}

	merchant := normalizers.NormalizeMerchant(models.Deref(in.MerchantDomain), models.Deref(in.MerchantDisplayName))
	if res, ok := r.fuzzy(in, orderNumber, merchant, orders, idx, stats); ok {
		stats.FuzzyMatch++
		return res
	}

	stats.NoMatch++
	return models.Resolution{Kind: models.MatchKindNone}
}

// fuzzy walks the merchant's candidates in index order and accepts the first
// one that passes the conflict veto, the time window and the threshold.
func (r *Resolver) fuzzy(
	in *models.FieldSet,
	orderNumber string,
	merchant string,
	orders map[string]*models.Order,
	idx *index.Indexes,
	stats *models.MatchStats,
) (models.Resolution, bool) {
	candidates := idx.Candidates(merchant)
	if len(candidates) == 0 {
		return models.Resolution{}, false
	}

	tokens := normalizers.Tokenize(models.Deref(in.ItemSummary))
	matchTime := in.MatchTime()

	for _, key := range candidates {
		existing, ok := orders[key]
		if !ok {
			continue
		}

		existingNumber := identifiers.Effective(existing.OrderNumber, existing.ItemSummary, identifiers.ExtractOrderNumber)
		if orderNumber != "" && existingNumber != "" && orderNumber != existingNumber {
			stats.ConflictReject++
			continue
		}

		if !r.scorer.WithinWindow(matchTime, existing.MatchTime, r.cfg.Window) {
			stats.WindowReject++
			continue
		}

		similarity := r.scorer.Jaccard(tokens, normalizers.Tokenize(models.Deref(existing.ItemSummary)))
		if similarity < r.cfg.SimilarityThreshold {
			stats.BelowThreshold++
			continue
		}

		return models.Resolution{OrderKey: key, Kind: models.MatchKindFuzzy, Similarity: similarity}, true
	}

	return models.Resolution{}, false
}
