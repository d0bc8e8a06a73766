package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *json.RawMessage:
			*p = r.values[i].(json.RawMessage)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type execCall struct {
	sql    string
	args   []any
	ctxErr error
}

// fakeDB answers QueryRow calls from a queue in order.
type fakeDB struct {
	rows    []fakeRow
	queries []execCall
	execs   []execCall
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.queries = append(db.queries, execCall{sql: sql, args: args, ctxErr: ctx.Err()})
	if len(db.rows) == 0 {
		return fakeRow{err: errors.New("unexpected query")}
	}
	row := db.rows[0]
	db.rows = db.rows[1:]
	return row
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args, ctxErr: ctx.Err()})
	if err := ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const handler = "create-order"

var body = []byte(`{"patient":{"intakeq_id":"iq-1"}}`)

func newInbox(db *fakeDB) *Inbox {
	inbox := NewInbox(db, DefaultInboxConfig(), nil)
	inbox.now = func() time.Time { return now }
	return inbox
}

func entryRow(fingerprint string, status Status, result string, updated time.Time) fakeRow {
	return fakeRow{values: []any{"k-1", handler, fingerprint, string(status), json.RawMessage(result), updated}}
}

func claimed() fakeRow { return fakeRow{values: []any{"k-1"}} }

func TestProcessNewKey(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{{err: pgx.ErrNoRows}, claimed()}}
	calls := 0

	res, err := newInbox(db).Process(context.Background(), "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"orderId":1}`), nil
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.JSONEq(t, `{"orderId":1}`, string(res.Result))
	assert.Equal(t, 1, calls)

	require.Len(t, db.execs, 1)
	assert.Equal(t, string(StatusFinished), db.execs[0].args[0])
	assert.Equal(t, json.RawMessage(`{"orderId":1}`), db.execs[0].args[1])
}

func TestProcessReplaysFinished(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{entryRow(Fingerprint(handler, body), StatusFinished, `{"orderId":1}`, now)}}

	res, err := newInbox(db).Process(context.Background(), "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
		t.Fatal("handler must not run for a finished key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.JSONEq(t, `{"orderId":1}`, string(res.Result))
	assert.Empty(t, db.execs)
}

func TestProcessRejects(t *testing.T) {
	fp := Fingerprint(handler, body)
	tests := []struct {
		name string
		rows []fakeRow
		want error
	}{
		{"different body", []fakeRow{entryRow(Fingerprint(handler, []byte(`{}`)), StatusFinished, `{}`, now)}, ErrKeyReused},
		{"still running", []fakeRow{entryRow(fp, StatusStarted, `null`, now.Add(-time.Minute))}, ErrInProgress},
		{"lost claim race", []fakeRow{{err: pgx.ErrNoRows}, {err: pgx.ErrNoRows}}, ErrInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{rows: tt.rows}
			_, err := newInbox(db).Process(context.Background(), "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
				t.Fatal("handler must not run")
				return nil, nil
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcessRecoversStaleClaim(t *testing.T) {
	stale := entryRow(Fingerprint(handler, body), StatusStarted, `null`, now.Add(-time.Hour))
	db := &fakeDB{rows: []fakeRow{stale, claimed()}}

	res, err := newInbox(db).Process(context.Background(), "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"orderId":2}`), nil
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	// Takeover happens in the claim itself, not in a separate update.
	require.Len(t, db.queries, 2)
	assert.Contains(t, db.queries[1].sql, "inbox.status = 'STARTED' AND inbox.updated_at < NOW() - make_interval(secs => $6)")
	assert.Equal(t, DefaultInboxConfig().RecoveryTimeout.Seconds(), db.queries[1].args[5])
	require.Len(t, db.execs, 1)
	assert.Equal(t, string(StatusFinished), db.execs[0].args[0])
}

func TestProcessStaleClaimTakenByOtherRequest(t *testing.T) {
	// Both requests saw the same stale entry; the other one claimed it first.
	stale := entryRow(Fingerprint(handler, body), StatusStarted, `null`, now.Add(-time.Hour))
	db := &fakeDB{rows: []fakeRow{stale, {err: pgx.ErrNoRows}}}

	_, err := newInbox(db).Process(context.Background(), "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
		t.Fatal("handler must not run when the claim is lost")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Empty(t, db.execs, "losing request must not touch the winner's entry")
}

func TestProcessReleasesKeyAfterCallerCancels(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{{err: pgx.ErrNoRows}, claimed()}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := newInbox(db).Process(ctx, "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
		cancel()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, db.execs, 1)
	assert.Equal(t, string(StatusRecoverable), db.execs[0].args[0])
	assert.NoError(t, db.execs[0].ctxErr)
}

func TestProcessHandlerFailureReleasesKey(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{{err: pgx.ErrNoRows}, claimed()}}
	boom := errors.New("remote rejected order")

	_, err := newInbox(db).Process(context.Background(), "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	require.Len(t, db.execs, 1)
	assert.Equal(t, string(StatusRecoverable), db.execs[0].args[0])
}

func TestProcessLookupFailure(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{{err: errors.New("connection refused")}}}

	_, err := newInbox(db).Process(context.Background(), "k-1", handler, body, func(ctx context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check inbox")
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint(handler, body), Fingerprint(handler, body))
	assert.NotEqual(t, Fingerprint(handler, body), Fingerprint("other", body))
	assert.NotEqual(t, Fingerprint(handler, body), Fingerprint(handler, []byte(`{}`)))
	assert.Len(t, Fingerprint(handler, body), 64)
}

func TestCleanup(t *testing.T) {
	db := &fakeDB{}
	n, err := newInbox(db).Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "DELETE FROM inbox")
}
