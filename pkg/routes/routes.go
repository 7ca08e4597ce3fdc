// Package routes assembles the fern HTTP API.
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/deadletters"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/ingest"
	"github.com/Ramsey-B/fern/pkg/routes/orders"
)

// Options configures the server.
type Options struct {
	AppName        string
	TracingEnabled bool
	AllowOrigins   []string
	AllowMethods   []string
}

// Handlers are the route groups. DeadLetters may be nil.
type Handlers struct {
	Orders      *orders.Handler
	Ingest      *ingest.Handler
	DeadLetters *deadletters.Handler
	Health      *health.Checker
}

// New builds the echo server with middleware and every route registered.
func New(opts Options, logger ectologger.Logger, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	if opts.TracingEnabled {
		e.Use(otelecho.Middleware(opts.AppName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	if len(opts.AllowOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: opts.AllowOrigins,
			AllowMethods: opts.AllowMethods,
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, middleware.HeaderTenantID},
		}))
	}

	h.Health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1", middleware.RequireTenant())
	h.Orders.Register(api.Group("/orders"))
	h.Ingest.Register(api.Group("/ingest"))
	if h.DeadLetters != nil {
		h.DeadLetters.Register(api.Group("/dead-letters"))
	}

	return e
}
