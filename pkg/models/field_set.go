package models

import (
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// EmailType is the upstream classification of the source email.
type EmailType string

const (
	EmailTypeOrderConfirmation EmailType = "order_confirmation"
	EmailTypeShipping          EmailType = "shipping"
	EmailTypeDelivery          EmailType = "delivery"
	EmailTypeCancellation      EmailType = "cancellation"
)

// FieldSet is the extractor's output for one email.
type FieldSet struct {
	EmailID    string    `json:"email_id" validate:"required"`
	TenantID   string    `json:"tenant_id"`
	ReceivedAt time.Time `json:"received_at"`
	EmailType  EmailType `json:"email_type,omitempty"`

	OrderNumber    *string `json:"order_number,omitempty"`
	TrackingNumber *string `json:"tracking_number,omitempty"`

	MerchantDomain       *string `json:"merchant_domain,omitempty"`
	MerchantDisplayName  *string `json:"merchant_display_name,omitempty"`
	ItemSummary          *string `json:"item_summary,omitempty"`
	EvidenceSnippet      *string `json:"evidence_snippet,omitempty"`
	ReturnPortalLink     *string `json:"return_portal_link,omitempty" validate:"omitempty,url"`
	ShippingTrackingLink *string `json:"shipping_tracking_link,omitempty" validate:"omitempty,url"`

	PurchaseDate         *civil.Date `json:"purchase_date,omitempty"`
	ShipDate             *civil.Date `json:"ship_date,omitempty"`
	DeliveryDate         *civil.Date `json:"delivery_date,omitempty"`
	ExplicitReturnByDate *civil.Date `json:"explicit_return_by_date,omitempty"`
	ReturnWindowDays     *int        `json:"return_window_days,omitempty" validate:"omitempty,gt=0,lte=365"`

	Amount   decimal.NullDecimal `json:"amount"`
	Currency *string             `json:"currency,omitempty" validate:"omitempty,len=3"`

	// Set during processing, never by the extractor.
	ID       string `json:"-"`
	OrderKey string `json:"-"`

	// InvalidFields lists date fields that were present but unparseable and
	// have been dropped.
	InvalidFields []string `json:"-"`
}

// MatchTime is the effective timestamp used for time-window matching.
func (f *FieldSet) MatchTime() time.Time {
	if f.PurchaseDate != nil && f.PurchaseDate.IsValid() {
		return f.PurchaseDate.In(time.UTC)
	}
	return f.ReceivedAt
}

type fieldSetAlias FieldSet

type fieldSetJSON struct {
	*fieldSetAlias
	PurchaseDate         *string `json:"purchase_date,omitempty"`
	ShipDate             *string `json:"ship_date,omitempty"`
	DeliveryDate         *string `json:"delivery_date,omitempty"`
	ExplicitReturnByDate *string `json:"explicit_return_by_date,omitempty"`
}

// UnmarshalJSON decodes dates leniently: an unparseable date is recorded in
// InvalidFields and treated as absent rather than failing the whole message.
func (f *FieldSet) UnmarshalJSON(data []byte) error {
	aux := fieldSetJSON{fieldSetAlias: (*fieldSetAlias)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	f.PurchaseDate = f.parseDate("purchase_date", aux.PurchaseDate)
	f.ShipDate = f.parseDate("ship_date", aux.ShipDate)
	f.DeliveryDate = f.parseDate("delivery_date", aux.DeliveryDate)
	f.ExplicitReturnByDate = f.parseDate("explicit_return_by_date", aux.ExplicitReturnByDate)
	return nil
}

func (f *FieldSet) parseDate(field string, raw *string) *civil.Date {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	value := strings.TrimSpace(*raw)
	// extractors sometimes emit full timestamps
	if len(value) > 10 {
		value = value[:10]
	}
	d, err := civil.ParseDate(value)
	if err != nil || !d.IsValid() {
		f.InvalidFields = append(f.InvalidFields, field)
		return nil
	}
	return &d
}
