// Package deadletters lists field-sets that could not be processed.
package deadletters

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/redis"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Reader lists dead letters for a tenant.
type Reader interface {
	ListByTenant(ctx context.Context, tenantID string, count int64) ([]redis.DLQEntry, error)
}

// Handler serves the dead letter endpoint.
type Handler struct {
	reader Reader
}

// NewHandler creates a dead letter handler
func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// Register registers dead letter routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
}

// List returns the tenant's newest dead letters.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := fernctx.GetTenantID(ctx)

	limit := defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxLimit {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "limit must be between 1 and %d", maxLimit)
		}
		limit = v
	}

	entries, err := h.reader.ListByTenant(ctx, tenantID, int64(limit))
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to read dead letters")
	}
	if entries == nil {
		entries = []redis.DLQEntry{}
	}

	return c.JSON(http.StatusOK, entries)
}
