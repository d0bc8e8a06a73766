package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxbridge/internal/domain/patient"
	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
)

type fakeResolver struct {
	identity *patient.ResolvedIdentity
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(ctx context.Context, in patient.Payload) (*patient.ResolvedIdentity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

// fakeOrderAPI confirms the ids it was sent unless confirm overrides them.
type fakeOrderAPI struct {
	got     []healthwarehouse.OrderPayload
	err     error
	next    int64
	confirm *healthwarehouse.Order
}

func (f *fakeOrderAPI) CreateOrder(ctx context.Context, order healthwarehouse.OrderPayload) (*healthwarehouse.Order, error) {
	f.got = append(f.got, order)
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	if f.confirm != nil {
		return f.confirm, nil
	}
	return &healthwarehouse.Order{ID: 9000 + f.next, PatientID: order.PatientID, CustomerID: order.CustomerID}, nil
}

type fakeRecorder struct {
	events []*Event
	err    error
}

func (f *fakeRecorder) Record(ctx context.Context, event *Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func identity() *patient.ResolvedIdentity {
	return &patient.ResolvedIdentity{
		CustomerID:        41053,
		PatientID:         777,
		BillingAddressID:  11,
		ShippingAddressID: 22,
	}
}

func validRequest() Request {
	return Request{
		Patient:    patient.Payload{IntakeKey: "iq-123"},
		Prescriber: Prescriber{FirstName: "Gregory", LastName: "House"},
		LineItems: []LineItem{
			{ProductID: 1001, MedicationDetails: "Amoxicillin 500mg, take twice daily"},
			{ProductID: 1002, MedicationDetails: "Ibuprofen 200mg as needed"},
		},
		OrderComment: "leave at door",
	}
}

func TestSubmitOrderReturnsRemoteIDs(t *testing.T) {
	api := &fakeOrderAPI{confirm: &healthwarehouse.Order{ID: 1, PatientID: 555, CustomerID: 666}}
	o := NewOrchestrator(&fakeResolver{identity: identity()}, api, nil, nil, nil)

	summary, err := o.SubmitOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, &Summary{OrderID: 1, PatientID: 555, CustomerID: 666}, summary)
}

func TestSubmitOrder(t *testing.T) {
	api := &fakeOrderAPI{}
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeResolver{identity: identity()}, api, rec, nil, nil)

	summary, err := o.SubmitOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, &Summary{OrderID: 9001, PatientID: 777, CustomerID: 41053}, summary)

	require.Len(t, api.got, 1)
	sent := api.got[0]
	assert.Equal(t, int64(41053), sent.CustomerID)
	assert.Equal(t, int64(777), sent.PatientID)
	assert.Equal(t, int64(11), sent.BillingAddressID)
	assert.Equal(t, int64(22), sent.ShippingAddressID)
	assert.Equal(t, "leave at door", sent.OrderComment)
	assert.Equal(t, []healthwarehouse.LineItem{
		{ProductID: 1001, Qty: 1},
		{ProductID: 1002, Qty: 1},
	}, sent.LineItems)
}

func TestSubmitOrderShippingMethod(t *testing.T) {
	tests := []struct {
		name string
		in   healthwarehouse.ShippingMethod
		want healthwarehouse.ShippingMethod
	}{
		{"defaults to standard", "", healthwarehouse.ShippingStandard},
		{"keeps requested method", healthwarehouse.ShippingUPSNextDay, healthwarehouse.ShippingUPSNextDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeOrderAPI{}
			o := NewOrchestrator(&fakeResolver{identity: identity()}, api, nil, nil, nil)

			req := validRequest()
			req.ShippingMethod = tt.in
			_, err := o.SubmitOrder(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, api.got[0].ShippingMethod)
		})
	}
}

func TestSubmitOrderResolverFailure(t *testing.T) {
	var verrs patient.ValidationErrors
	verrs.Add("patient.first_name", "First name is required")
	api := &fakeOrderAPI{}
	o := NewOrchestrator(&fakeResolver{err: verrs}, api, nil, nil, nil)

	_, err := o.SubmitOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, patient.IsValidation(err))
	assert.Empty(t, api.got, "no order is placed when the patient cannot be resolved")
}

func TestSubmitOrderRemoteRejection(t *testing.T) {
	remote := &healthwarehouse.RemoteAPIError{
		Method:  http.MethodPost,
		Path:    "/orders",
		Status:  http.StatusBadRequest,
		Message: "Product out of stock",
	}
	rec := &fakeRecorder{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	o := NewOrchestrator(&fakeResolver{identity: identity()}, &fakeOrderAPI{err: remote}, rec, m, nil)

	_, err := o.SubmitOrder(context.Background(), validRequest())
	require.Error(t, err)

	var apiErr *healthwarehouse.RemoteAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "HealthWarehouse API Error: Product out of stock", apiErr.Error())
	assert.Empty(t, rec.events)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersFailed))
}

func TestSubmitOrderRecordsEvent(t *testing.T) {
	rec := &fakeRecorder{}
	o := NewOrchestrator(&fakeResolver{identity: identity()}, &fakeOrderAPI{}, rec, nil, nil)

	req := validRequest()
	req.Prescriber.Phone = "555-123-4567"
	_, err := o.SubmitOrder(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	event := rec.events[0]
	assert.Equal(t, EventOrderSubmitted, event.EventType)
	assert.Equal(t, "9001", event.AggregateID)
	assert.Equal(t, AggregateType, event.AggregateType)
	assert.NotEmpty(t, event.ID)

	var data OrderSubmittedData
	require.NoError(t, json.Unmarshal(event.EventData, &data))
	assert.Equal(t, "iq-123", data.IntakeKey)
	assert.Equal(t, healthwarehouse.ShippingStandard, data.ShippingMethod)
	assert.Equal(t, "Amoxicillin 500mg, take twice daily", data.LineItems[0].MedicationDetails)
	assert.Equal(t, "555-123-4567", data.Prescriber.Phone)
}

func TestSubmitOrderEventFailureDoesNotFailOrder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	o := NewOrchestrator(&fakeResolver{identity: identity()}, &fakeOrderAPI{}, &fakeRecorder{err: errors.New("db down")}, m, nil)

	summary, err := o.SubmitOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(9001), summary.OrderID)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventRecordFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersCreated))
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
		field  string
	}{
		{"missing prescriber first name", func(r *Request) { r.Prescriber.FirstName = "" }, "prescriber.first_name"},
		{"missing prescriber last name", func(r *Request) { r.Prescriber.LastName = "" }, "prescriber.last_name"},
		{"no line items", func(r *Request) { r.LineItems = nil }, "line_items"},
		{"bad product id", func(r *Request) { r.LineItems[0].ProductID = 0 }, "line_items.0.product_id"},
		{"missing medication details", func(r *Request) { r.LineItems[1].MedicationDetails = "" }, "line_items.1.medication_details"},
		{"unknown shipping method", func(r *Request) { r.ShippingMethod = "teleport" }, "shipping_method"},
		{"missing intake key", func(r *Request) { r.Patient.IntakeKey = "" }, "patient.intakeq_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			require.Error(t, err)
			var verrs patient.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, verrs.Details(), tt.field)
		})
	}

	req := validRequest()
	assert.NoError(t, req.Validate())
}
