// Package main provides the order API service entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/api"
	"github.com/drfirst/go-rxbridge/internal/api/handlers"
	"github.com/drfirst/go-rxbridge/internal/config"
	"github.com/drfirst/go-rxbridge/internal/domain/order"
	"github.com/drfirst/go-rxbridge/internal/domain/patient"
	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
	"github.com/drfirst/go-rxbridge/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
	"github.com/drfirst/go-rxbridge/internal/observability/tracing"
	"github.com/drfirst/go-rxbridge/pkg/circuitbreaker"
	"github.com/drfirst/go-rxbridge/pkg/idempotency"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	tracingCfg := tracing.DefaultConfig(cfg.ServiceName)
	tracingCfg.Environment = cfg.Env
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	m := metrics.New(nil)

	// Connect to database
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	if cfg.DBAutoMigrate {
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
	}

	// Pharmacy client behind a breaker that ignores request-caused rejections
	breakerCfg := circuitbreaker.DefaultConfig("healthwarehouse")
	breakerCfg.Neutral = healthwarehouse.IsClientError
	breakerCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.SetBreakerState(name, string(to))
	}
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create circuit breaker", zap.Error(err))
	}

	client := healthwarehouse.NewClient(healthwarehouse.Config{
		BaseURL: cfg.HealthWarehouseBaseURL,
		APIKey:  cfg.HealthWarehouseAPIKey,
		Timeout: cfg.HealthWarehouseTimeout,
	}, breaker, m, logger)

	resolverCfg := patient.ResolverConfig{
		CustomerID: cfg.HealthWarehouseCustomerID,
		Metrics:    m,
	}
	if cfg.SerializeByIntakeKey {
		resolverCfg.Locker = postgres.NewAdvisoryLocker(pool, logger)
	}
	resolver := patient.NewResolver(client, postgres.NewIdentityStore(pool, logger), resolverCfg, logger)

	var events order.EventRecorder
	if cfg.OutboxEnabled {
		events = postgres.NewOutboxRecorder(pool, cfg.OrderEventsTopic)
	}
	orchestrator := order.NewOrchestrator(resolver, client, events, m, logger)

	orders := handlers.NewOrderHandler(orchestrator, client, logger)
	if cfg.IdempotencyEnabled {
		inboxCfg := idempotency.DefaultInboxConfig()
		inboxCfg.DefaultTTL = cfg.IdempotencyTTL
		inbox := idempotency.NewInbox(pool, inboxCfg, logger)
		inbox.StartCleanup()
		defer inbox.Stop()
		orders.WithIdempotency(inbox)
	}

	router := api.NewRouter(api.RouterConfig{
		ServiceName: cfg.ServiceName,
		APIKeys:     cfg.InboundAPIKeys,
		CORSOrigins: cfg.CORSOrigins,
		Orders:      orders,
		DB:          pool,
		Breakers:    []handlers.BreakerStatus{breaker},
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HealthWarehouseTimeout*6 + 15*time.Second, // one order is up to six remote calls
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting order API",
		zap.String("port", cfg.Port),
		zap.Int64("customer_id", cfg.HealthWarehouseCustomerID),
		zap.Bool("serialize_by_intake_key", cfg.SerializeByIntakeKey),
		zap.Bool("outbox_enabled", cfg.OutboxEnabled),
		zap.Bool("idempotency_enabled", cfg.IdempotencyEnabled),
		zap.Bool("tracing_enabled", tp.Enabled()))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	<-stopped
	logger.Info("server stopped")
}
