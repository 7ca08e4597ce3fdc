// Package lifecycle computes return deadlines and display state for orders.
// Everything here is a pure function of the order and the current date.
package lifecycle

import (
	"cloud.google.com/go/civil"

	"github.com/Ramsey-B/fern/pkg/models"
)

// DefaultReturnWindowDays applies when an order quotes no window.
const DefaultReturnWindowDays = 30

const (
	urgentMaxDays = 3
	soonMaxDays   = 7
)

// Anchor returns the date the return window counts from: delivery, else
// ship, else purchase.
func Anchor(o *models.Order) (models.AnchorType, *civil.Date) {
	switch {
	case o.DeliveryDate != nil:
		return models.AnchorDelivery, o.DeliveryDate
	case o.ShipDate != nil:
		return models.AnchorShip, o.ShipDate
	case o.PurchaseDate != nil:
		return models.AnchorPurchase, o.PurchaseDate
	}
	return models.AnchorNone, nil
}

// Deadline computes the return-by date and how much to trust it. An explicit
// date always wins; otherwise the anchor plus the order's window (or
// defaultWindow when it has none) gives an estimate.
func Deadline(o *models.Order, defaultWindow int) (*civil.Date, models.DeadlineConfidence) {
	if o.ExplicitReturnByDate != nil {
		d := *o.ExplicitReturnByDate
		return &d, models.DeadlineExact
	}

	_, anchor := Anchor(o)
	if anchor == nil {
		return nil, models.DeadlineUnknown
	}

	window := defaultWindow
	if o.ReturnWindowDays != nil && *o.ReturnWindowDays > 0 {
		window = *o.ReturnWindowDays
	}
	d := anchor.AddDays(window)
	return &d, models.DeadlineEstimated
}

// DaysRemaining returns whole days from today until the return-by date,
// negative once it has passed, or nil without a deadline.
func DaysRemaining(o *models.Order, today civil.Date) *int {
	if o.ReturnByDate == nil {
		return nil
	}
	days := o.ReturnByDate.DaysSince(today)
	return &days
}

// UrgencyOf buckets days remaining.
func UrgencyOf(days *int) models.Urgency {
	if days == nil {
		return models.UrgencyNone
	}
	switch d := *days; {
	case d < 0:
		return models.UrgencyExpired
	case d <= urgentMaxDays:
		return models.UrgencyUrgent
	case d <= soonMaxDays:
		return models.UrgencySoon
	default:
		return models.UrgencyNormal
	}
}

// ShouldDisplay reports whether the user can still act on the order.
func ShouldDisplay(o *models.Order, today civil.Date) bool {
	if o.OrderStatus != models.OrderStatusActive {
		return false
	}
	if o.DeadlineConfidence == models.DeadlineUnknown || o.DeadlineConfidence == "" {
		return false
	}
	if o.ReturnByDate == nil {
		return false
	}
	return !o.ReturnByDate.Before(today)
}

// ShouldAlert reports whether the deadline is reliable enough to notify on.
func ShouldAlert(o *models.Order) bool {
	switch o.DeadlineConfidence {
	case models.DeadlineExact:
		return true
	case models.DeadlineEstimated:
		return o.DeliveryDate != nil
	}
	return false
}

// View bundles the lifecycle state of o as of today.
func View(o *models.Order, today civil.Date) models.LifecycleView {
	anchorType, anchorDate := Anchor(o)
	days := DaysRemaining(o, today)

	confidence := o.DeadlineConfidence
	if confidence == "" {
		confidence = models.DeadlineUnknown
	}

	return models.LifecycleView{
		Anchor:             anchorType,
		AnchorDate:         anchorDate,
		ReturnByDate:       o.ReturnByDate,
		DeadlineConfidence: confidence,
		DaysRemaining:      days,
		Urgency:            UrgencyOf(days),
		ShouldDisplay:      ShouldDisplay(o, today),
		ShouldAlert:        ShouldAlert(o),
	}
}
