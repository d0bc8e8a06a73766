// Package idempotency provides the Inbox pattern for replay-safe request handling.
// Callers supply a client idempotency key; the request body is fingerprinted so a
// key cannot be reused for a different request.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status represents the processing status of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
)

// InboxEntry represents an idempotency inbox record
type InboxEntry struct {
	IdempotencyKey string
	HandlerName    string
	Fingerprint    string
	Status         Status
	Result         json.RawMessage
	UpdatedAt      time.Time
}

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// DefaultTTL is how long a finished result can be replayed
	DefaultTTL time.Duration
	// CleanupInterval is how often to clean expired entries
	CleanupInterval time.Duration
	// RecoveryTimeout is when to consider a STARTED entry as stale
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns sensible defaults
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// DB is the subset of pgxpool.Pool the inbox uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Inbox manages idempotent request processing
type Inbox struct {
	db     DB
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	// Control for cleanup goroutine
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates a new inbox manager
func NewInbox(db DB, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Inbox{
		db:     db,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

var (
	// ErrInProgress indicates the key is held by a request still running
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused indicates the key was first used with a different body
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// ProcessResult represents the result of idempotent processing
type ProcessResult struct {
	Replayed bool
	Result   json.RawMessage
}

// ProcessFunc is the function signature for idempotent handlers
type ProcessFunc func(ctx context.Context) (json.RawMessage, error)

// Process runs fn at most once per key. A finished key replays its stored
// result; a failed run releases the key so the caller may try again.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload []byte, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	fingerprint := Fingerprint(handlerName, payload)

	entry, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if entry != nil {
		if entry.Fingerprint != fingerprint {
			return nil, ErrKeyReused
		}
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("replayed", true))
			return &ProcessResult{Replayed: true, Result: entry.Result}, nil

		case StatusStarted:
			if i.now().Sub(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrInProgress
			}
			// Stale claim from a crashed request; the claim below takes it over.
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.startProcessing(ctx, key, handlerName, fingerprint); err != nil {
		return nil, err
	}

	result, handlerErr := fn(ctx)

	// The outcome is recorded even if the caller has gone away.
	statusCtx := context.WithoutCancel(ctx)
	if handlerErr != nil {
		if err := i.markStatus(statusCtx, key, StatusRecoverable, nil); err != nil {
			i.logger.Error("failed to release idempotency key", zap.String("key", key), zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	if err := i.markStatus(statusCtx, key, StatusFinished, result); err != nil {
		// The handler succeeded; only replay is lost.
		i.logger.Error("failed to mark finished", zap.String("key", key), zap.Error(err))
	}

	return &ProcessResult{Result: result}, nil
}

// Fingerprint hashes the handler name and request body.
func Fingerprint(handlerName string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(handlerName))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// getEntry retrieves an inbox entry by key
func (i *Inbox) getEntry(ctx context.Context, key string) (*InboxEntry, error) {
	query := `
		SELECT idempotency_key, handler_name, fingerprint, status, result, updated_at
		FROM inbox
		WHERE idempotency_key = $1 AND expires_at > NOW()
	`

	entry := &InboxEntry{}
	var status string
	err := i.db.QueryRow(ctx, query, key).Scan(
		&entry.IdempotencyKey, &entry.HandlerName, &entry.Fingerprint,
		&status, &entry.Result, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Status = Status(status)

	return entry, nil
}

// startProcessing claims the key. Only an absent, expired, recoverable or
// stale STARTED entry can be claimed. The check and the claim are one
// statement, so two requests recovering the same stale entry cannot both win.
func (i *Inbox) startProcessing(ctx context.Context, key, handlerName, fingerprint string) error {
	expiresAt := i.now().Add(i.config.DefaultTTL)

	query := `
		INSERT INTO inbox (idempotency_key, handler_name, fingerprint, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET handler_name = EXCLUDED.handler_name,
		    fingerprint = EXCLUDED.fingerprint,
		    status = EXCLUDED.status,
		    result = NULL,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		   OR inbox.expires_at <= NOW()
		   OR (inbox.status = 'STARTED' AND inbox.updated_at < NOW() - make_interval(secs => $6))
		RETURNING idempotency_key
	`

	var returned string
	err := i.db.QueryRow(ctx, query, key, handlerName, fingerprint, string(StatusStarted), expiresAt,
		i.config.RecoveryTimeout.Seconds()).Scan(&returned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race to a concurrent request
			return ErrInProgress
		}
		return fmt.Errorf("claim idempotency key: %w", err)
	}

	return nil
}

// markStatus updates an entry's status and stored result
func (i *Inbox) markStatus(ctx context.Context, key string, status Status, result json.RawMessage) error {
	query := `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3
	`

	_, err := i.db.Exec(ctx, query, string(status), result, key)
	return err
}

// StartCleanup starts the background cleanup goroutine
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the inbox cleanup
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.Cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

// Cleanup removes expired entries
func (i *Inbox) Cleanup(ctx context.Context) (int64, error) {
	result, err := i.db.Exec(ctx, `DELETE FROM inbox WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}

	if result.RowsAffected() > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", result.RowsAffected()))
	}

	return result.RowsAffected(), nil
}
