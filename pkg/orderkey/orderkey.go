// Package orderkey derives the deterministic identity key of an order.
package orderkey

import (
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/identifiers"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

const (
	separator = "::"
	itemPart  = "item"
)

// Source holds the fields a key is derived from.
type Source struct {
	MerchantDomain      string
	MerchantDisplayName string
	OrderNumber         string
	TrackingNumber      string
	ItemSummary         string
	// FallbackID is used when nothing else identifies the order.
	FallbackID string
}

// Generate returns, in priority order:
//
//	{merchant}::{order_number}
//	{merchant}::item::{hash of item tokens}
//	FallbackID
//
// The merchant component comes from normalizers.NormalizeMerchant. The order
// number is the explicit one, else one scanned out of the item summary.
func Generate(src Source) string {
	merchant := normalizers.NormalizeMerchant(src.MerchantDomain, src.MerchantDisplayName)

	orderNumber := identifiers.Normalize(src.OrderNumber)
	if orderNumber == "" {
		orderNumber = identifiers.Normalize(identifiers.ExtractOrderNumber(src.ItemSummary))
	}
	if orderNumber != "" {
		return merchant + separator + orderNumber
	}

	tokens := normalizers.Tokenize(src.ItemSummary)
	if len(tokens) > 0 {
		return merchant + separator + itemPart + separator + fingerprint.HashTokens(tokens.Sorted())
	}

	return src.FallbackID
}

// FromFieldSet builds a Source from an incoming field-set. FallbackID is the
// field-set's prospective order id.
func FromFieldSet(fs *models.FieldSet) Source {
	return Source{
		MerchantDomain:      models.Deref(fs.MerchantDomain),
		MerchantDisplayName: models.Deref(fs.MerchantDisplayName),
		OrderNumber:         models.Deref(fs.OrderNumber),
		TrackingNumber:      models.Deref(fs.TrackingNumber),
		ItemSummary:         models.Deref(fs.ItemSummary),
		FallbackID:          fs.ID,
	}
}
