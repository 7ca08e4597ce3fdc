// Package events publishes order lifecycle events.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Event types
const (
	OrderCreated       = "order.created"
	OrderMerged        = "order.merged"
	OrderStatusChanged = "order.status_changed"
)

// volatileFields change on every write and are left out of the content
// fingerprint.
var volatileFields = map[string]bool{
	"updated_at": true,
	"match_time": true,
	"version":    true,
}

// Publisher sends order events to the bus.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, event *kafka.OrderEvent) error
}

// Emitter handles event emission for fern
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitOrderCreated emits an order created event carrying the full order
func (e *Emitter) EmitOrderCreated(ctx context.Context, o *models.Order, emailID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitOrderCreated")
	defer span.End()

	data, err := json.Marshal(o)
	if err != nil {
		return err
	}

	return e.emit(ctx, &kafka.OrderEvent{
		EventType:   OrderCreated,
		TenantID:    o.TenantID,
		OrderID:     o.ID,
		OrderKey:    o.OrderKey,
		EmailID:     emailID,
		Data:        data,
		Version:     o.Version,
		Fingerprint: e.fingerprint(ctx, o),
	})
}

// EmitOrderMerged emits an order merged event with the changed columns and
// how the email was matched
func (e *Emitter) EmitOrderMerged(ctx context.Context, result *models.MergeResult, emailID string, res models.Resolution) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitOrderMerged")
	defer span.End()

	mergeData := map[string]any{
		"match_kind": res.Kind,
		"changed":    result.ChangedColumns(),
		"order":      result.Order,
	}
	if res.Kind == models.MatchKindFuzzy {
		mergeData["similarity"] = res.Similarity
	}

	data, err := json.Marshal(mergeData)
	if err != nil {
		return err
	}

	o := result.Order
	return e.emit(ctx, &kafka.OrderEvent{
		EventType:   OrderMerged,
		TenantID:    o.TenantID,
		OrderID:     o.ID,
		OrderKey:    o.OrderKey,
		EmailID:     emailID,
		Data:        data,
		Version:     o.Version,
		Fingerprint: e.fingerprint(ctx, o),
	})
}

// EmitOrderStatusChanged emits a status change made through the API
func (e *Emitter) EmitOrderStatusChanged(ctx context.Context, o *models.Order, previous models.OrderStatus) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitOrderStatusChanged")
	defer span.End()

	data, err := json.Marshal(map[string]any{
		"previous_status": previous,
		"status":          o.OrderStatus,
	})
	if err != nil {
		return err
	}

	return e.emit(ctx, &kafka.OrderEvent{
		EventType:   OrderStatusChanged,
		TenantID:    o.TenantID,
		OrderID:     o.ID,
		OrderKey:    o.OrderKey,
		Data:        data,
		Version:     o.Version,
		Fingerprint: e.fingerprint(ctx, o),
	})
}

// fingerprint hashes the order's content so consumers can drop events that
// carry nothing new.
func (e *Emitter) fingerprint(ctx context.Context, o *models.Order) string {
	fp, err := fingerprint.FromStruct(o, volatileFields)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("order_id", o.ID).Warn("Failed to fingerprint order")
		return ""
	}
	return fp
}

func (e *Emitter) emit(ctx context.Context, event *kafka.OrderEvent) error {
	event.SchemaVersion = SchemaVersion
	if err := e.publisher.PublishOrderEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("event_type", event.EventType).Error("Failed to emit order event")
		return err
	}
	return nil
}
