package order

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/domain/patient"
	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
)

// IdentityResolver resolves the remote identity for an intake patient.
type IdentityResolver interface {
	Resolve(ctx context.Context, in patient.Payload) (*patient.ResolvedIdentity, error)
}

// OrderAPI places orders with HealthWarehouse.
type OrderAPI interface {
	CreateOrder(ctx context.Context, order healthwarehouse.OrderPayload) (*healthwarehouse.Order, error)
}

// Orchestrator resolves the patient and then places the order.
type Orchestrator struct {
	resolver IdentityResolver
	api      OrderAPI
	events   EventRecorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewOrchestrator creates an orchestrator. events may be nil.
func NewOrchestrator(resolver IdentityResolver, api OrderAPI, events EventRecorder, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		resolver: resolver,
		api:      api,
		events:   events,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("order-orchestrator"),
	}
}

// SubmitOrder places req and returns the remote identifiers. Failures from
// the resolver or the order call are returned unchanged in kind.
func (o *Orchestrator) SubmitOrder(ctx context.Context, req Request) (summary *Summary, err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "submit_order")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.metrics.ObserveOrder(err, time.Since(start))
	}()

	identity, err := o.resolver.Resolve(ctx, req.Patient)
	if err != nil {
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	created, err := o.api.CreateOrder(ctx, BuildOrder(identity, req))
	if err != nil {
		o.logger.Warn("order rejected",
			zap.String("intake_key", req.Patient.IntakeKey),
			zap.Int64("hw_patient_id", identity.PatientID),
			zap.Error(err))
		return nil, fmt.Errorf("create order: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("order.id", created.ID),
		attribute.Int64("patient.id", created.PatientID),
	)
	o.logger.Info("order created",
		zap.Int64("order_id", created.ID),
		zap.Int64("hw_patient_id", identity.PatientID),
		zap.Int("line_items", len(req.LineItems)))

	o.record(ctx, created.ID, identity, req)

	// The remote response is the confirmation; its ids are returned as given.
	return &Summary{
		OrderID:    created.ID,
		PatientID:  created.PatientID,
		CustomerID: created.CustomerID,
	}, nil
}

// BuildOrder shapes the remote order. Each line item becomes one unit of its
// product; medication details stay local.
func BuildOrder(identity *patient.ResolvedIdentity, req Request) healthwarehouse.OrderPayload {
	items := make([]healthwarehouse.LineItem, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		items = append(items, healthwarehouse.LineItem{ProductID: item.ProductID, Qty: 1})
	}
	return healthwarehouse.OrderPayload{
		CustomerID:        identity.CustomerID,
		PatientID:         identity.PatientID,
		BillingAddressID:  identity.BillingAddressID,
		ShippingAddressID: identity.ShippingAddressID,
		OrderComment:      req.OrderComment,
		ShippingMethod:    req.shippingMethod(),
		LineItems:         items,
	}
}

// record writes the OrderSubmitted event. The order is already placed, so a
// failure here is logged and counted only.
func (o *Orchestrator) record(ctx context.Context, orderID int64, identity *patient.ResolvedIdentity, req Request) {
	if o.events == nil {
		return
	}

	event, err := NewEvent(orderAggregateID(orderID), EventOrderSubmitted, OrderSubmittedData{
		OrderID:           orderID,
		IntakeKey:         req.Patient.IntakeKey,
		CustomerID:        identity.CustomerID,
		PatientID:         identity.PatientID,
		BillingAddressID:  identity.BillingAddressID,
		ShippingAddressID: identity.ShippingAddressID,
		ShippingMethod:    req.shippingMethod(),
		OrderComment:      req.OrderComment,
		LineItems:         req.LineItems,
		Prescriber:        req.Prescriber,
		SubmittedAt:       time.Now().UTC(),
	})
	if err == nil {
		if span := trace.SpanFromContext(ctx); span.SpanContext().HasTraceID() {
			event.CorrelationID = span.SpanContext().TraceID().String()
		}
		err = o.events.Record(ctx, event)
	}
	if err != nil {
		o.metrics.EventRecordFailed()
		o.logger.Error("failed to record order event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}
