package models

import "cloud.google.com/go/civil"

// AnchorType names the date a return window is counted from.
type AnchorType string

const (
	AnchorDelivery AnchorType = "delivery"
	AnchorShip     AnchorType = "ship"
	AnchorPurchase AnchorType = "purchase"
	AnchorNone     AnchorType = "none"
)

// Urgency buckets the days left before the return deadline.
type Urgency string

const (
	UrgencyExpired Urgency = "expired"
	UrgencyUrgent  Urgency = "urgent"
	UrgencySoon    Urgency = "soon"
	UrgencyNormal  Urgency = "normal"
	UrgencyNone    Urgency = ""
)

// LifecycleView is computed on read for a given day and never stored.
type LifecycleView struct {
	Anchor             AnchorType         `json:"anchor"`
	AnchorDate         *civil.Date        `json:"anchor_date,omitempty"`
	ReturnByDate       *civil.Date        `json:"return_by_date,omitempty"`
	DeadlineConfidence DeadlineConfidence `json:"deadline_confidence"`
	DaysRemaining      *int               `json:"days_remaining,omitempty"`
	Urgency            Urgency            `json:"urgency,omitempty"`
	ShouldDisplay      bool               `json:"should_display"`
	ShouldAlert        bool               `json:"should_alert"`
}

// OrderView pairs an order with its lifecycle view for API responses.
type OrderView struct {
	*Order
	Lifecycle LifecycleView `json:"lifecycle"`
}
