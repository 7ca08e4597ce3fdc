// Package index holds the per-tenant lookup tables used by the resolver.
package index

import (
	"slices"

	"github.com/Ramsey-B/fern/pkg/identifiers"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Indexes maps identifiers and merchants to order keys. It is plain data:
// callers own it and update it with Add after an order is persisted.
type Indexes struct {
	// OrderNumbers maps a normalized order number to an order key.
	OrderNumbers map[string]string
	// TrackingNumbers maps a normalized tracking number to an order key.
	TrackingNumbers map[string]string
	// Merchants maps a normalized merchant to order keys in insertion order.
	Merchants map[string][]string
}

// New returns empty indexes.
func New() *Indexes {
	return &Indexes{
		OrderNumbers:    make(map[string]string),
		TrackingNumbers: make(map[string]string),
		Merchants:       make(map[string][]string),
	}
}

// Build indexes orders in the given order, which determines the candidate
// order for fuzzy matching.
func Build(orders []*models.Order) *Indexes {
	idx := New()
	for _, o := range orders {
		idx.Add(o)
	}
	return idx
}

// Add indexes o under its key. Effective identifiers fall back to numbers
// found in the item summary. An identifier already pointing at another order
// keeps its first owner.
func (idx *Indexes) Add(o *models.Order) {
	if o == nil || o.OrderKey == "" {
		return
	}

	if n := identifiers.Effective(o.OrderNumber, o.ItemSummary, identifiers.ExtractOrderNumber); n != "" {
		if _, exists := idx.OrderNumbers[n]; !exists {
			idx.OrderNumbers[n] = o.OrderKey
		}
	}
	if n := identifiers.Effective(o.TrackingNumber, o.ItemSummary, identifiers.ExtractTrackingNumber); n != "" {
		if _, exists := idx.TrackingNumbers[n]; !exists {
			idx.TrackingNumbers[n] = o.OrderKey
		}
	}
	if o.NormalizedMerchant != "" && !slices.Contains(idx.Merchants[o.NormalizedMerchant], o.OrderKey) {
		idx.Merchants[o.NormalizedMerchant] = append(idx.Merchants[o.NormalizedMerchant], o.OrderKey)
	}
}

// LookupOrderNumber returns the key indexed under a normalized order number.
func (idx *Indexes) LookupOrderNumber(n string) (string, bool) {
	if n == "" {
		return "", false
	}
	key, ok := idx.OrderNumbers[n]
	return key, ok
}

// LookupTrackingNumber returns the key indexed under a normalized tracking
// number.
func (idx *Indexes) LookupTrackingNumber(n string) (string, bool) {
	if n == "" {
		return "", false
	}
	key, ok := idx.TrackingNumbers[n]
	return key, ok
}

// Candidates returns the order keys seen for a merchant.
func (idx *Indexes) Candidates(merchant string) []string {
	if merchant == "" {
		return nil
	}
	return idx.Merchants[merchant]
}
