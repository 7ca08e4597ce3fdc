package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// upsertOrderCypher links (:Merchant)-[:SOLD]->(:Order)<-[:CONTRIBUTED_TO]-(:Email).
// The merchant is skipped when unknown.
const upsertOrderCypher = `
	MERGE (o:Order {id: $id, tenant_id: $tenant_id})
	SET o += $props
	WITH o
	MERGE (e:Email {id: $email_id, tenant_id: $tenant_id})
	MERGE (e)-[:CONTRIBUTED_TO]->(o)
	WITH o
	FOREACH (_ IN CASE WHEN $merchant = '' THEN [] ELSE [1] END |
		MERGE (m:Merchant {name: $merchant, tenant_id: $tenant_id})
		MERGE (m)-[:SOLD]->(o)
	)
`

// OrderProjector writes orders into the graph.
type OrderProjector struct {
	client *Client
	logger ectologger.Logger
}

// NewOrderProjector creates an order projector
func NewOrderProjector(client *Client, logger ectologger.Logger) *OrderProjector {
	return &OrderProjector{
		client: client,
		logger: logger,
	}
}

// ProjectOrder upserts the order node and its merchant and email edges.
func (p *OrderProjector) ProjectOrder(ctx context.Context, o *models.Order, emailID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.OrderProjector.ProjectOrder")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"order_id":  o.ID,
		"tenant_id": o.TenantID,
	})

	counters, err := p.client.Write(ctx, upsertOrderCypher, orderParams(o, emailID))
	if err != nil {
		log.WithError(err).Error("Failed to project order into graph")
		return fmt.Errorf("failed to project order %s: %w", o.ID, err)
	}

	log.WithFields(map[string]any{
		"nodes_created":         counters.NodesCreated(),
		"relationships_created": counters.RelationshipsCreated(),
	}).Debug("Projected order into graph")
	return nil
}

func orderParams(o *models.Order, emailID string) map[string]any {
	props := map[string]any{
		"order_key":           o.OrderKey,
		"status":              string(o.OrderStatus),
		"deadline_confidence": string(o.DeadlineConfidence),
		"version":             o.Version,
		"updated_at":          o.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if o.OrderNumber != nil {
		props["order_number"] = *o.OrderNumber
	}
	if o.TrackingNumber != nil {
		props["tracking_number"] = *o.TrackingNumber
	}
	if o.ItemSummary != nil {
		props["item_summary"] = *o.ItemSummary
	}
	if o.ReturnByDate != nil {
		props["return_by_date"] = o.ReturnByDate.String()
	}

	return map[string]any{
		"id":        o.ID,
		"tenant_id": o.TenantID,
		"email_id":  emailID,
		"merchant":  o.NormalizedMerchant,
		"props":     props,
	}
}
