package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/domain/patient"
)

// lockConn is the part of *pgxpool.Conn the locker uses.
type lockConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// AdvisoryLocker serializes work per intake key with session advisory locks.
// Each held lock pins one pool connection until unlocked; the mapping reads
// and writes made under the lock run on that same connection, so a lock
// holder never waits on the pool.
type AdvisoryLocker struct {
	acquire func(ctx context.Context) (lockConn, error)
	logger  *zap.Logger
}

// NewAdvisoryLocker creates a locker backed by pool.
func NewAdvisoryLocker(pool *pgxpool.Pool, logger *zap.Logger) *AdvisoryLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisoryLocker{
		acquire: func(ctx context.Context) (lockConn, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		logger: logger,
	}
}

var _ patient.KeyLocker = (*AdvisoryLocker)(nil)

// Lock blocks until the lock for key is held or ctx is done. The returned
// store is bound to the locked connection and is invalid after unlock.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (patient.Store, func(), error) {
	conn, err := l.acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(hashtextextended($1, 0))", key); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("advisory lock: %w", err)
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock(hashtextextended($1, 0))", key); err != nil {
			l.logger.Error("advisory unlock failed; closing connection", zap.Error(err))
			// A session lock dies with its connection.
			if h, ok := conn.(interface{ Hijack() *pgx.Conn }); ok {
				h.Hijack().Close(ctx)
				return
			}
		}
		conn.Release()
	}
	return NewIdentityStore(conn, l.logger), unlock, nil
}
