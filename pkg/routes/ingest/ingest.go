// Package ingest accepts extracted field-sets over HTTP and processes them
// synchronously.
package ingest

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
)

// MaxBatchSize caps one request.
const MaxBatchSize = 500

// BatchProcessor processes a tenant's field-sets.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, tenantID string, fieldSets []*models.FieldSet) (*processor.BatchResult, error)
}

// Request is the body of POST /ingest.
type Request struct {
	FieldSets []*models.FieldSet `json:"field_sets" validate:"required,min=1,max=500"`
}

// Handler serves the ingest endpoint.
type Handler struct {
	processor BatchProcessor
	logger    ectologger.Logger
	validate  *validator.Validate
}

// NewHandler creates an ingest handler
func NewHandler(proc BatchProcessor, logger ectologger.Logger) *Handler {
	return &Handler{
		processor: proc,
		logger:    logger,
		validate:  validator.New(),
	}
}

// Register registers ingest routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Ingest)
}

// Ingest processes a batch in order and returns one outcome per field-set.
func (h *Handler) Ingest(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := fernctx.GetTenantID(ctx)

	var req Request
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "field_sets must hold 1 to %d entries", MaxBatchSize)
	}

	result, err := h.processor.ProcessBatch(ctx, tenantID, req.FieldSets)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to process ingest batch")
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "batch could not be processed, retry later")
	}

	return c.JSON(http.StatusOK, result)
}
