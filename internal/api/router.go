// Package api assembles the order API router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/api/handlers"
	"github.com/drfirst/go-rxbridge/internal/api/middleware"
	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
)

// RouterConfig holds everything the router serves.
type RouterConfig struct {
	ServiceName string
	APIKeys     []string
	CORSOrigins []string
	Orders      *handlers.OrderHandler
	DB          handlers.Pinger
	Breakers    []handlers.BreakerStatus
	Logger      *zap.Logger
}

// NewRouter builds the HTTP handler. Health, readiness and metrics are
// served without authentication.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))

	r.Get("/health", handlers.Health)
	if cfg.DB != nil {
		r.Get("/ready", handlers.Readiness{DB: cfg.DB, Breakers: cfg.Breakers}.Handler())
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		cfg.Orders.Register(r)
	})

	return r
}
