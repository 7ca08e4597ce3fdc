package models

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// OrderStatus is the user-facing lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusReturned  OrderStatus = "returned"
	OrderStatusDismissed OrderStatus = "dismissed"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusActive, OrderStatusReturned, OrderStatusDismissed:
		return true
	}
	return false
}

// DeadlineConfidence describes how authoritative ReturnByDate is.
type DeadlineConfidence string

const (
	// DeadlineExact means the deadline was quoted in an email.
	DeadlineExact DeadlineConfidence = "exact"
	// DeadlineEstimated means the deadline was computed from an anchor date.
	DeadlineEstimated DeadlineConfidence = "estimated"
	// DeadlineUnknown means there is no deadline.
	DeadlineUnknown DeadlineConfidence = "unknown"
)

// Order is the canonical record of one real-world purchase. Nullable fields
// are pointers; a nil pointer means the value has never been observed.
type Order struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	OrderKey string `json:"order_key"`

	OrderNumber    *string `json:"order_number,omitempty"`
	TrackingNumber *string `json:"tracking_number,omitempty"`

	MerchantDomain       *string `json:"merchant_domain,omitempty"`
	MerchantDisplayName  *string `json:"merchant_display_name,omitempty"`
	NormalizedMerchant   string  `json:"normalized_merchant"`
	ItemSummary          *string `json:"item_summary,omitempty"`
	EvidenceSnippet      *string `json:"evidence_snippet,omitempty"`
	ReturnPortalLink     *string `json:"return_portal_link,omitempty"`
	ShippingTrackingLink *string `json:"shipping_tracking_link,omitempty"`

	PurchaseDate         *civil.Date `json:"purchase_date,omitempty"`
	ShipDate             *civil.Date `json:"ship_date,omitempty"`
	DeliveryDate         *civil.Date `json:"delivery_date,omitempty"`
	ReturnByDate         *civil.Date `json:"return_by_date,omitempty"`
	ExplicitReturnByDate *civil.Date `json:"explicit_return_by_date,omitempty"`
	ReturnWindowDays     *int        `json:"return_window_days,omitempty"`

	Amount   decimal.NullDecimal `json:"amount"`
	Currency *string             `json:"currency,omitempty"`

	SourceEmailIDs []string `json:"source_email_ids"`

	OrderStatus        OrderStatus        `json:"order_status"`
	DeadlineConfidence DeadlineConfidence `json:"deadline_confidence"`

	MatchTime time.Time `json:"match_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Clone returns a deep copy; merges work on a copy so the stored record is
// never partially updated.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.SourceEmailIDs = slices.Clone(o.SourceEmailIDs)
	c.OrderNumber = clonePtr(o.OrderNumber)
	c.TrackingNumber = clonePtr(o.TrackingNumber)
	c.MerchantDomain = clonePtr(o.MerchantDomain)
	c.MerchantDisplayName = clonePtr(o.MerchantDisplayName)
	c.ItemSummary = clonePtr(o.ItemSummary)
	c.EvidenceSnippet = clonePtr(o.EvidenceSnippet)
	c.ReturnPortalLink = clonePtr(o.ReturnPortalLink)
	c.ShippingTrackingLink = clonePtr(o.ShippingTrackingLink)
	c.PurchaseDate = clonePtr(o.PurchaseDate)
	c.ShipDate = clonePtr(o.ShipDate)
	c.DeliveryDate = clonePtr(o.DeliveryDate)
	c.ReturnByDate = clonePtr(o.ReturnByDate)
	c.ExplicitReturnByDate = clonePtr(o.ExplicitReturnByDate)
	c.ReturnWindowDays = clonePtr(o.ReturnWindowDays)
	c.Currency = clonePtr(o.Currency)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
