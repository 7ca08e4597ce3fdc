// Package merging folds a duplicate email's fields into the canonical order
// under a fixed per-field precedence policy.
package merging

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/Ramsey-B/fern/pkg/identifiers"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Engine builds new orders from field-sets and merges field-sets into
// existing orders. It performs no I/O.
type Engine struct {
	fieldMerger   *FieldMerger
	defaultWindow int
}

// NewEngine creates a merge engine. defaultWindowDays is the return window
// used when an order quotes none.
func NewEngine(defaultWindowDays int) *Engine {
	if defaultWindowDays <= 0 {
		defaultWindowDays = lifecycle.DefaultReturnWindowDays
	}
	return &Engine{
		fieldMerger:   NewFieldMerger(),
		defaultWindow: defaultWindowDays,
	}
}

// NewOrder builds the first version of an order from an unmatched field-set.
// Identifiers missing from the field-set are filled from its item summary.
func (e *Engine) NewOrder(in *models.FieldSet, id, key string, now time.Time) *models.MergeResult {
	o := &models.Order{
		ID:                   id,
		TenantID:             in.TenantID,
		OrderKey:             key,
		OrderNumber:          incomingOrderNumber(in),
		TrackingNumber:       incomingTrackingNumber(in),
		MerchantDomain:       nonBlank(in.MerchantDomain),
		MerchantDisplayName:  nonBlank(in.MerchantDisplayName),
		NormalizedMerchant:   normalizers.NormalizeMerchant(models.Deref(in.MerchantDomain), models.Deref(in.MerchantDisplayName)),
		ItemSummary:          nonBlank(in.ItemSummary),
		EvidenceSnippet:      nonBlank(in.EvidenceSnippet),
		ReturnPortalLink:     nonBlank(in.ReturnPortalLink),
		ShippingTrackingLink: nonBlank(in.ShippingTrackingLink),
		PurchaseDate:         in.PurchaseDate,
		ShipDate:             in.ShipDate,
		DeliveryDate:         in.DeliveryDate,
		ExplicitReturnByDate: in.ExplicitReturnByDate,
		ReturnWindowDays:     in.ReturnWindowDays,
		Amount:               in.Amount,
		Currency:             nonBlank(in.Currency),
		SourceEmailIDs:       []string{in.EmailID},
		OrderStatus:          models.OrderStatusActive,
		MatchTime:            in.MatchTime(),
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	o = o.Clone()
	o.ReturnByDate, o.DeadlineConfidence = lifecycle.Deadline(o, e.defaultWindow)

	return &models.MergeResult{Order: o, Changes: map[string]any{}, IsNew: true}
}

// Merge applies in to a copy of existing. The returned Changes hold only the
// columns whose value changed, plus updated_at.
func (e *Engine) Merge(existing *models.Order, in *models.FieldSet, now time.Time) *models.MergeResult {
	merged := existing.Clone()
	changes := make(map[string]any)

	// identity fields are never replaced once known
	if fillIfEmpty(&merged.OrderNumber, incomingOrderNumber(in)) {
		changes[models.ColumnOrderNumber] = merged.OrderNumber
	}
	if fillIfEmpty(&merged.TrackingNumber, incomingTrackingNumber(in)) {
		changes[models.ColumnTrackingNumber] = merged.TrackingNumber
	}

	if fillIfEmpty(&merged.MerchantDomain, nonBlank(in.MerchantDomain)) {
		changes[models.ColumnMerchantDomain] = merged.MerchantDomain
	}
	if fillIfEmpty(&merged.MerchantDisplayName, nonBlank(in.MerchantDisplayName)) {
		changes[models.ColumnMerchantDisplayName] = merged.MerchantDisplayName
	}
	if merged.NormalizedMerchant == "" {
		if nm := normalizers.NormalizeMerchant(models.Deref(merged.MerchantDomain), models.Deref(merged.MerchantDisplayName)); nm != "" {
			merged.NormalizedMerchant = nm
			changes[models.ColumnNormalizedMerchant] = nm
		}
	}

	if v, won := e.fieldMerger.Longest(merged.ItemSummary, in.ItemSummary); won {
		merged.ItemSummary = clone(v)
		changes[models.ColumnItemSummary] = merged.ItemSummary
	}
	if v, won := e.fieldMerger.PolicyEvidence(merged.EvidenceSnippet, in.EvidenceSnippet); won {
		merged.EvidenceSnippet = clone(v)
		changes[models.ColumnEvidenceSnippet] = merged.EvidenceSnippet
	}
	if fillIfEmpty(&merged.ReturnPortalLink, nonBlank(in.ReturnPortalLink)) {
		changes[models.ColumnReturnPortalLink] = merged.ReturnPortalLink
	}
	if fillIfEmpty(&merged.ShippingTrackingLink, nonBlank(in.ShippingTrackingLink)) {
		changes[models.ColumnShippingTrackingLink] = merged.ShippingTrackingLink
	}

	if fillIfEmpty(&merged.PurchaseDate, in.PurchaseDate) {
		changes[models.ColumnPurchaseDate] = merged.PurchaseDate
	}
	if fillIfEmpty(&merged.ShipDate, in.ShipDate) {
		changes[models.ColumnShipDate] = merged.ShipDate
	}
	deliveryChanged := fillIfEmpty(&merged.DeliveryDate, in.DeliveryDate)
	if deliveryChanged {
		changes[models.ColumnDeliveryDate] = merged.DeliveryDate
	}
	explicitChanged := fillIfEmpty(&merged.ExplicitReturnByDate, in.ExplicitReturnByDate)
	if explicitChanged {
		changes[models.ColumnExplicitReturnByDate] = merged.ExplicitReturnByDate
	}
	if fillIfEmpty(&merged.ReturnWindowDays, in.ReturnWindowDays) {
		changes[models.ColumnReturnWindowDays] = merged.ReturnWindowDays
	}

	if !merged.Amount.Valid && in.Amount.Valid {
		merged.Amount = in.Amount
		changes[models.ColumnAmount] = merged.Amount
	}
	if fillIfEmpty(&merged.Currency, nonBlank(in.Currency)) {
		changes[models.ColumnCurrency] = merged.Currency
	}

	if ids, added := e.fieldMerger.AppendUnique(merged.SourceEmailIDs, in.EmailID); added {
		merged.SourceEmailIDs = ids
		changes[models.ColumnSourceEmailIDs] = merged.SourceEmailIDs
	}

	if merged.MatchTime.IsZero() {
		if t := in.MatchTime(); !t.IsZero() {
			merged.MatchTime = t
			changes[models.ColumnMatchTime] = t
		}
	}

	// the deadline moves when there was none, the delivery anchor just
	// arrived, or a quoted return-by date just arrived
	if existing.ReturnByDate == nil || deliveryChanged || explicitChanged {
		returnBy, confidence := lifecycle.Deadline(merged, e.defaultWindow)
		if !sameDate(merged.ReturnByDate, returnBy) {
			merged.ReturnByDate = returnBy
			changes[models.ColumnReturnByDate] = returnBy
		}
		if merged.DeadlineConfidence != confidence {
			merged.DeadlineConfidence = confidence
			changes[models.ColumnDeadlineConfidence] = confidence
		}
	}

	merged.UpdatedAt = now
	changes[models.ColumnUpdatedAt] = now

	return &models.MergeResult{Order: merged, Changes: changes, IsNew: false}
}

func incomingOrderNumber(in *models.FieldSet) *string {
	if !isBlank(in.OrderNumber) {
		return clone(in.OrderNumber)
	}
	return models.StringPtr(identifiers.ExtractOrderNumber(models.Deref(in.ItemSummary)))
}

func incomingTrackingNumber(in *models.FieldSet) *string {
	if !isBlank(in.TrackingNumber) {
		return clone(in.TrackingNumber)
	}
	return models.StringPtr(identifiers.ExtractTrackingNumber(models.Deref(in.ItemSummary)))
}

func nonBlank(s *string) *string {
	if isBlank(s) {
		return nil
	}
	return s
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sameDate(a, b *civil.Date) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
