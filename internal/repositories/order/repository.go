package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "orders"

const uniqueViolation = "23505"

var columns = []string{
	"id", "tenant_id", "order_key", "order_number", "tracking_number",
	"merchant_domain", "merchant_display_name", "normalized_merchant",
	"item_summary", "evidence_snippet", "return_portal_link", "shipping_tracking_link",
	"purchase_date", "ship_date", "delivery_date", "return_by_date", "explicit_return_by_date",
	"return_window_days", "amount", "currency", "source_email_ids",
	"order_status", "deadline_confidence", "match_time", "created_at", "updated_at", "version",
}

// mutableColumns may appear in a change set.
var mutableColumns = []string{
	models.ColumnOrderNumber, models.ColumnTrackingNumber,
	models.ColumnMerchantDomain, models.ColumnMerchantDisplayName, models.ColumnNormalizedMerchant,
	models.ColumnItemSummary, models.ColumnEvidenceSnippet,
	models.ColumnReturnPortalLink, models.ColumnShippingTrackingLink,
	models.ColumnPurchaseDate, models.ColumnShipDate, models.ColumnDeliveryDate,
	models.ColumnReturnByDate, models.ColumnExplicitReturnByDate, models.ColumnReturnWindowDays,
	models.ColumnAmount, models.ColumnCurrency, models.ColumnSourceEmailIDs,
	models.ColumnDeadlineConfidence, models.ColumnMatchTime, models.ColumnUpdatedAt,
}

// Repository handles order persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new order repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// InTx runs fn inside a transaction carried on the context. Repository calls
// made with that context join the transaction. fn's error rolls it back.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var fnErr error
	err := r.db.InTx(ctx, func(ctx context.Context) error {
		fnErr = fn(ctx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete transaction")
	}
	return err
}

// ListByTenant returns every order of a tenant, oldest first.
func (r *Repository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Order, error) {
	ctx, span := tracing.StartSpan(ctx, "order.Repository.ListByTenant")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var rows []orderRow
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).Error("Failed to list orders")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list orders")
	}

	orders := make([]*models.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].toModel())
	}
	return orders, nil
}

// Get retrieves an order by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Order, error) {
	ctx, span := tracing.StartSpan(ctx, "order.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var row orderRow
	if err := database.Conn(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("order %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get order")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get order")
	}

	return row.toModel(), nil
}

// Create inserts a new order. A second order with the same key for the tenant
// is a conflict.
func (r *Repository) Create(ctx context.Context, o *models.Order) error {
	ctx, span := tracing.StartSpan(ctx, "order.Repository.Create")
	defer span.End()

	row := fromModel(o)
	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(
		row.ID, row.TenantID, row.OrderKey, row.OrderNumber, row.TrackingNumber,
		row.MerchantDomain, row.MerchantDisplayName, row.NormalizedMerchant,
		row.ItemSummary, row.EvidenceSnippet, row.ReturnPortalLink, row.ShippingTrackingLink,
		row.PurchaseDate, row.ShipDate, row.DeliveryDate, row.ReturnByDate, row.ExplicitReturnByDate,
		row.ReturnWindowDays, row.Amount, row.Currency, row.SourceEmailIDs,
		row.OrderStatus, row.DeadlineConfidence, row.MatchTime, row.CreatedAt, row.UpdatedAt, row.Version,
	)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return httperror.NewHTTPErrorf(http.StatusConflict, "order with key %s already exists", o.OrderKey)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create order")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create order")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":        o.ID,
		"tenant_id": o.TenantID,
		"order_key": o.OrderKey,
	}).Debug("Created order")
	return nil
}

// ApplyChanges writes a merge change set in a single UPDATE and bumps the
// version. Unknown columns are rejected.
func (r *Repository) ApplyChanges(ctx context.Context, tenantID, id string, changes map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "order.Repository.ApplyChanges")
	defer span.End()

	if len(changes) == 0 {
		return nil
	}

	cols := make([]string, 0, len(changes))
	for col := range changes {
		if !slices.Contains(mutableColumns, col) {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "column %s cannot be changed", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	assignments := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		assignments = append(assignments, ub.Assign(col, columnValue(changes[col])))
	}
	assignments = append(assignments, ub.Add("version", 1))
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("order_id", id).Error("Failed to apply order changes")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update order")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("order %s not found", id))
	}
	return nil
}

// UpdateStatus sets the user-facing status of an order.
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := tracing.StartSpan(ctx, "order.Repository.UpdateStatus")
	defer span.End()

	if !status.Valid() {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid order status %q", status)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("order_status", string(status)),
		ub.Assign("updated_at", time.Now().UTC()),
		ub.Add("version", 1),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update order status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update order status")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("order %s not found", id))
	}

	return r.Get(ctx, tenantID, id)
}

// columnValue converts model values to driver values.
func columnValue(v any) any {
	switch val := v.(type) {
	case *civil.Date:
		return dateToTime(val)
	case []string:
		return database.JSONB[[]string]{Data: val}
	case models.DeadlineConfidence:
		return string(val)
	case time.Time:
		if val.IsZero() {
			return nil
		}
		return val
	default:
		return v
	}
}
