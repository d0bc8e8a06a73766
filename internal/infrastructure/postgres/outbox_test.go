package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
)

// fakeRows iterates a fixed set of rows.
type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return fakeRow{values: r.rows[r.pos-1]}.Scan(dest...)
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.pos-1], nil }

// fakeOutboxConn serves the relay's queries from fixed data and records writes.
type fakeOutboxConn struct {
	locked   bool
	entries  [][]any
	stats    fakeRow
	queries  []string
	execs    []queryCall
	released bool
}

func (c *fakeOutboxConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.queries = append(c.queries, sql)
	return &fakeRows{rows: c.entries}, nil
}

func (c *fakeOutboxConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "pg_try_advisory_lock") {
		return fakeRow{values: []any{c.locked}}
	}
	return c.stats
}

func (c *fakeOutboxConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, queryCall{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (c *fakeOutboxConn) Release() { c.released = true }

type published struct {
	topic, key string
	value      []byte
}

// fakePublisher fails every message whose key is in failKeys.
type fakePublisher struct {
	failKeys map[string]bool
	sent     []published
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if p.failKeys[key] {
		return errors.New("broker not available")
	}
	p.sent = append(p.sent, published{topic: topic, key: key, value: value})
	return nil
}

func entryValues(id int64, key string, retries int) []any {
	return []any{id, key, "PharmacyOrder", "OrderSubmitted", json.RawMessage(`{"id":"e"}`),
		"pharmacy.orders", key, now, retries, (*string)(nil)}
}

func testOutbox(conn *fakeOutboxConn, pub *fakePublisher, m *metrics.Metrics) *Outbox {
	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		db:        conn,
		acquire:   func(ctx context.Context) (outboxConn, error) { return conn, nil },
		config:    DefaultOutboxConfig(),
		publisher: pub,
		metrics:   m,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("outbox-test"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func TestOutboxProcessBatch(t *testing.T) {
	conn := &fakeOutboxConn{
		locked:  true,
		entries: [][]any{entryValues(1, "9001", 0), entryValues(2, "9002", 3)},
	}
	pub := &fakePublisher{failKeys: map[string]bool{"9002": true}}

	testOutbox(conn, pub, nil).processBatch()

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "pharmacy.orders", pub.sent[0].topic)
	assert.Equal(t, "9001", pub.sent[0].key)

	require.Len(t, conn.execs, 3)
	assert.Contains(t, conn.execs[0].sql, "SET processed_at = NOW()")
	assert.Equal(t, []any{int64(1)}, conn.execs[0].args)

	assert.Contains(t, conn.execs[1].sql, "retry_count = retry_count + 1")
	assert.Equal(t, []any{"broker not available", int64(2)}, conn.execs[1].args)

	assert.Contains(t, conn.execs[2].sql, "pg_advisory_unlock")
	assert.True(t, conn.released)
}

func TestOutboxProcessBatchLockHeldElsewhere(t *testing.T) {
	conn := &fakeOutboxConn{locked: false, entries: [][]any{entryValues(1, "9001", 0)}}
	pub := &fakePublisher{}

	testOutbox(conn, pub, nil).processBatch()

	assert.Empty(t, conn.queries, "no entries are read without the relay lock")
	assert.Empty(t, pub.sent)
	assert.True(t, conn.released)
}

func TestOutboxProcessBatchAcquireFailure(t *testing.T) {
	pub := &fakePublisher{}
	o := testOutbox(&fakeOutboxConn{}, pub, nil)
	o.acquire = func(ctx context.Context) (outboxConn, error) { return nil, errors.New("pool closed") }

	o.processBatch()
	assert.Empty(t, pub.sent)
}

func TestMoveToDeadLetter(t *testing.T) {
	conn := &fakeOutboxConn{entries: [][]any{entryValues(7, "9007", 5), entryValues(8, "9008", 5)}}
	pub := &fakePublisher{failKeys: map[string]bool{"9008": true}}

	n, err := testOutbox(conn, pub, nil).MoveToDeadLetter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "pharmacy.orders.dlq", pub.sent[0].topic)
	assert.Equal(t, "9007", pub.sent[0].key)

	var dl map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].value, &dl))
	assert.Equal(t, "pharmacy.orders", dl["original_topic"])

	require.Len(t, conn.execs, 1, "an entry whose dead letter failed stays pending")
	assert.Equal(t, []any{int64(7)}, conn.execs[0].args)
}

func TestOutboxMaintainSetsPendingGauge(t *testing.T) {
	conn := &fakeOutboxConn{stats: fakeRow{values: []any{int64(4), int64(10), int64(1), &now}}}
	m := metrics.New(prometheus.NewRegistry())

	testOutbox(conn, &fakePublisher{}, m).maintain()

	assert.Equal(t, 4.0, testutil.ToFloat64(m.OutboxPending))
	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0].sql, "DELETE FROM outbox")
	assert.Equal(t, DefaultOutboxConfig().Retention.Seconds(), conn.execs[0].args[0])
}
