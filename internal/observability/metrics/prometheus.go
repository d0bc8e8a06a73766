// Package metrics provides Prometheus metrics for the pharmacy order bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	OrdersCreated         prometheus.Counter
	OrdersFailed          prometheus.Counter
	OrderDuration         prometheus.Histogram
	PatientsResolved      *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec
	EventRecordFailures   prometheus.Counter
	KafkaMessagesProduced prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg (the default
// registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_orders_created_total",
			Help: "Total pharmacy orders accepted by the remote platform",
		}),
		OrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_orders_failed_total",
			Help: "Total order requests that failed",
		}),
		OrderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmacy_order_duration_seconds",
			Help:    "End-to-end order submission duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		PatientsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patients_resolved_total",
			Help: "Patient resolutions by branch (created|updated)",
		}, []string{"branch"}),
		RemoteRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthwarehouse_request_duration_seconds",
			Help:    "HealthWarehouse API request duration",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
		EventRecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_event_record_failures_total",
			Help: "Order events that could not be written to the outbox",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.OrdersFailed,
		m.OrderDuration,
		m.PatientsResolved,
		m.RemoteRequestDuration,
		m.EventRecordFailures,
		m.KafkaMessagesProduced,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveRemote records one HealthWarehouse call. status is 0 for transport errors.
func (m *Metrics) ObserveRemote(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveOrder records the outcome of one order request.
func (m *Metrics) ObserveOrder(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.OrderDuration.Observe(d.Seconds())
	if err != nil {
		m.OrdersFailed.Inc()
		return
	}
	m.OrdersCreated.Inc()
}

// PatientResolved counts a resolver branch.
func (m *Metrics) PatientResolved(branch string) {
	if m == nil {
		return
	}
	m.PatientsResolved.WithLabelValues(branch).Inc()
}

// EventRecordFailed counts an order event lost before reaching the outbox.
func (m *Metrics) EventRecordFailed() {
	if m == nil {
		return
	}
	m.EventRecordFailures.Inc()
}

// MessageProduced counts a message published by the outbox relay.
func (m *Metrics) MessageProduced() {
	if m == nil {
		return
	}
	m.KafkaMessagesProduced.Inc()
}

// SetOutboxPending publishes the current outbox backlog.
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// SetBreakerState maps a breaker state name onto the gauge.
func (m *Metrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
