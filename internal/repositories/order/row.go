package order

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

type orderRow struct {
	ID                   string                   `db:"id"`
	TenantID             string                   `db:"tenant_id"`
	OrderKey             string                   `db:"order_key"`
	OrderNumber          *string                  `db:"order_number"`
	TrackingNumber       *string                  `db:"tracking_number"`
	MerchantDomain       *string                  `db:"merchant_domain"`
	MerchantDisplayName  *string                  `db:"merchant_display_name"`
	NormalizedMerchant   string                   `db:"normalized_merchant"`
	ItemSummary          *string                  `db:"item_summary"`
	EvidenceSnippet      *string                  `db:"evidence_snippet"`
	ReturnPortalLink     *string                  `db:"return_portal_link"`
	ShippingTrackingLink *string                  `db:"shipping_tracking_link"`
	PurchaseDate         *time.Time               `db:"purchase_date"`
	ShipDate             *time.Time               `db:"ship_date"`
	DeliveryDate         *time.Time               `db:"delivery_date"`
	ReturnByDate         *time.Time               `db:"return_by_date"`
	ExplicitReturnByDate *time.Time               `db:"explicit_return_by_date"`
	ReturnWindowDays     *int                     `db:"return_window_days"`
	Amount               decimal.NullDecimal      `db:"amount"`
	Currency             *string                  `db:"currency"`
	SourceEmailIDs       database.JSONB[[]string] `db:"source_email_ids"`
	OrderStatus          string                   `db:"order_status"`
	DeadlineConfidence   string                   `db:"deadline_confidence"`
	MatchTime            *time.Time               `db:"match_time"`
	CreatedAt            time.Time                `db:"created_at"`
	UpdatedAt            time.Time                `db:"updated_at"`
	Version              int                      `db:"version"`
}

func fromModel(o *models.Order) orderRow {
	ids := o.SourceEmailIDs
	if ids == nil {
		ids = []string{}
	}
	row := orderRow{
		ID:                   o.ID,
		TenantID:             o.TenantID,
		OrderKey:             o.OrderKey,
		OrderNumber:          o.OrderNumber,
		TrackingNumber:       o.TrackingNumber,
		MerchantDomain:       o.MerchantDomain,
		MerchantDisplayName:  o.MerchantDisplayName,
		NormalizedMerchant:   o.NormalizedMerchant,
		ItemSummary:          o.ItemSummary,
		EvidenceSnippet:      o.EvidenceSnippet,
		ReturnPortalLink:     o.ReturnPortalLink,
		ShippingTrackingLink: o.ShippingTrackingLink,
		PurchaseDate:         dateToTime(o.PurchaseDate),
		ShipDate:             dateToTime(o.ShipDate),
		DeliveryDate:         dateToTime(o.DeliveryDate),
		ReturnByDate:         dateToTime(o.ReturnByDate),
		ExplicitReturnByDate: dateToTime(o.ExplicitReturnByDate),
		ReturnWindowDays:     o.ReturnWindowDays,
		Amount:               o.Amount,
		Currency:             o.Currency,
		SourceEmailIDs:       database.JSONB[[]string]{Data: ids},
		OrderStatus:          string(o.OrderStatus),
		DeadlineConfidence:   string(o.DeadlineConfidence),
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
		Version:              o.Version,
	}
	if !o.MatchTime.IsZero() {
		t := o.MatchTime
		row.MatchTime = &t
	}
	return row
}

func (r *orderRow) toModel() *models.Order {
	o := &models.Order{
		ID:                   r.ID,
		TenantID:             r.TenantID,
		OrderKey:             r.OrderKey,
		OrderNumber:          r.OrderNumber,
		TrackingNumber:       r.TrackingNumber,
		MerchantDomain:       r.MerchantDomain,
		MerchantDisplayName:  r.MerchantDisplayName,
		NormalizedMerchant:   r.NormalizedMerchant,
		ItemSummary:          r.ItemSummary,
		EvidenceSnippet:      r.EvidenceSnippet,
		ReturnPortalLink:     r.ReturnPortalLink,
		ShippingTrackingLink: r.ShippingTrackingLink,
		PurchaseDate:         timeToDate(r.PurchaseDate),
		ShipDate:             timeToDate(r.ShipDate),
		DeliveryDate:         timeToDate(r.DeliveryDate),
		ReturnByDate:         timeToDate(r.ReturnByDate),
		ExplicitReturnByDate: timeToDate(r.ExplicitReturnByDate),
		ReturnWindowDays:     r.ReturnWindowDays,
		Amount:               r.Amount,
		Currency:             r.Currency,
		SourceEmailIDs:       r.SourceEmailIDs.Data,
		OrderStatus:          models.OrderStatus(r.OrderStatus),
		DeadlineConfidence:   models.DeadlineConfidence(r.DeadlineConfidence),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		Version:              r.Version,
	}
	if o.SourceEmailIDs == nil {
		o.SourceEmailIDs = []string{}
	}
	if r.MatchTime != nil {
		o.MatchTime = *r.MatchTime
	}
	return o
}

// DATE columns travel as midnight UTC.
func dateToTime(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

func timeToDate(t *time.Time) *civil.Date {
	if t == nil {
		return nil
	}
	d := civil.DateOf(*t)
	return &d
}
