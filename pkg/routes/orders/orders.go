// Package orders serves a tenant's orders together with their lifecycle view.
package orders

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Store reads and updates orders.
type Store interface {
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Order, error)
	Get(ctx context.Context, tenantID, id string) (*models.Order, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status models.OrderStatus) (*models.Order, error)
}

// StatusEmitter announces status changes.
type StatusEmitter interface {
	EmitOrderStatusChanged(ctx context.Context, o *models.Order, previous models.OrderStatus) error
}

// StatusRequest is the body of PUT /orders/:id/status.
type StatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required,oneof=active returned dismissed"`
}

// Handler serves the order endpoints.
type Handler struct {
	store    Store
	emitter  StatusEmitter
	logger   ectologger.Logger
	validate *validator.Validate
	clock    func() time.Time
}

// NewHandler creates an order handler. emitter may be nil; clock supplies
// "today" for lifecycle views.
func NewHandler(store Store, emitter StatusEmitter, logger ectologger.Logger, clock func() time.Time) *Handler {
	if clock == nil {
		clock = time.Now
	}
	return &Handler{
		store:    store,
		emitter:  emitter,
		logger:   logger,
		validate: validator.New(),
		clock:    clock,
	}
}

// Register registers order routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListOrders)
	g.GET("/:id", h.GetOrder)
	g.PUT("/:id/status", h.UpdateStatus)
}

func (h *Handler) today() civil.Date {
	return civil.DateOf(h.clock().UTC())
}

// ListOrders lists the tenant's orders. With display=true only actionable
// orders are returned, soonest deadline first.
func (h *Handler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := fernctx.GetTenantID(ctx)

	displayOnly := false
	if raw := c.QueryParam("display"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid display value %q", raw)
		}
		displayOnly = v
	}

	orders, err := h.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, buildViews(orders, h.today(), displayOnly))
}

func buildViews(orders []*models.Order, today civil.Date, displayOnly bool) []models.OrderView {
	views := make([]models.OrderView, 0, len(orders))
	for _, o := range orders {
		view := models.OrderView{Order: o, Lifecycle: lifecycle.View(o, today)}
		if displayOnly && !view.Lifecycle.ShouldDisplay {
			continue
		}
		views = append(views, view)
	}

	if displayOnly {
		// displayed orders always have days remaining
		sort.SliceStable(views, func(i, j int) bool {
			return *views[i].Lifecycle.DaysRemaining < *views[j].Lifecycle.DaysRemaining
		})
	}
	return views
}

// GetOrder returns one order with its lifecycle view.
func (h *Handler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := fernctx.GetTenantID(ctx)

	o, err := h.store.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.OrderView{Order: o, Lifecycle: lifecycle.View(o, h.today())})
}

// UpdateStatus marks an order returned, dismissed or active again.
func (h *Handler) UpdateStatus(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := fernctx.GetTenantID(ctx)
	id := c.Param("id")

	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid status %q", req.Status)
	}

	current, err := h.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	updated, err := h.store.UpdateStatus(ctx, tenantID, id, req.Status)
	if err != nil {
		return err
	}

	if h.emitter != nil && current.OrderStatus != updated.OrderStatus {
		if err := h.emitter.EmitOrderStatusChanged(ctx, updated, current.OrderStatus); err != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("Failed to emit status change")
		}
	}

	return c.JSON(http.StatusOK, models.OrderView{Order: updated, Lifecycle: lifecycle.View(updated, h.today())})
}
