// Package main provides the outbox relay entry point. It publishes order
// events written by the order API to Redpanda.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/api/handlers"
	"github.com/drfirst/go-rxbridge/internal/config"
	"github.com/drfirst/go-rxbridge/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxbridge/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
	"github.com/drfirst/go-rxbridge/internal/observability/tracing"
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

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	tracingCfg := tracing.DefaultConfig("outbox-relay")
	tracingCfg.Environment = cfg.Env
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	// Connect to database
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	// Ensure topics exist
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	topicCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := admin.EnsureTopics(topicCtx, cfg.OrderEventsTopic, cfg.OrderDeadLetterTopic); err != nil {
		logger.Warn("topic bootstrap failed", zap.Error(err))
	}
	cancel()
	admin.Close()

	// Create Redpanda producer
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	// Create outbox processor
	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = cfg.OrderDeadLetterTopic
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, m, logger)

	// Health, readiness and metrics
	r := chi.NewRouter()
	r.Get("/health", handlers.Health)
	r.Get("/ready", handlers.Readiness{
		DB: pool,
		Checks: []handlers.Check{{
			Name: "redpanda",
			Fn: func(ctx context.Context) error {
				return redpanda.HealthCheck(ctx, cfg.KafkaBrokers)
			},
		}},
		Stats: func() any { return producer.Stats() },
	}.Handler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	statusServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := statusServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("status server error", zap.Error(err))
		}
	}()

	// Start processing
	outbox.Start()
	logger.Info("outbox relay started", zap.String("topic", cfg.OrderEventsTopic))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	statusServer.Shutdown(shutdownCtx)

	stats := producer.Stats()
	logger.Info("outbox relay stopped",
		zap.Int64("messages_sent", stats.MessagesSent),
		zap.Int64("errors", stats.ErrorCount))
}
