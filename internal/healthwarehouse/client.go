// Package healthwarehouse is the REST client for the HealthWarehouse pharmacy
// fulfillment platform: customers, patients, addresses and orders.
package healthwarehouse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
	"github.com/drfirst/go-rxbridge/pkg/circuitbreaker"
)

// Config holds client configuration
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single request. Requests are never retried.
	Timeout time.Duration
}

// Client calls the HealthWarehouse API with a bearer credential.
type Client struct {
	http    *resty.Client
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates a client. breaker and m may be nil.
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetLogger(logger.Sugar()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		breaker: breaker,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("healthwarehouse"),
	}
}

// CreateCustomer handles POST /customers
func (c *Client) CreateCustomer(ctx context.Context, customer CustomerPayload) (*Customer, error) {
	var out struct {
		Customer Customer `json:"customer"`
	}
	body := map[string]any{"customer": customer}
	if err := c.request(ctx, "POST", "/customers", "/customers", body, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

// GetCustomer handles GET /customers/{id}
func (c *Client) GetCustomer(ctx context.Context, customerID int64) (*Customer, error) {
	var out struct {
		Customer Customer `json:"customer"`
	}
	path := "/customers/" + id(customerID)
	if err := c.request(ctx, "GET", "/customers/{id}", path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

// UpdateCustomerAddress handles POST /customers/{id}/{type}/{addressId}.
// Empty fields of address are left unchanged remotely.
func (c *Client) UpdateCustomerAddress(ctx context.Context, customerID, addressID int64, addressType AddressType, address AddressPayload) (*Address, error) {
	var out struct {
		Address Address `json:"address"`
	}
	path := fmt.Sprintf("/customers/%d/%s/%d", customerID, addressType, addressID)
	body := map[string]any{"address": address}
	route := "/customers/{id}/" + string(addressType) + "/{addressId}"
	if err := c.request(ctx, "POST", route, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Address, nil
}

// CreatePatientWithAddress handles POST /patients, creating the patient and
// optionally its shipping address in one call.
func (c *Client) CreatePatientWithAddress(ctx context.Context, patient PatientPayload, shipping *AddressPayload) (*PatientWithAddress, error) {
	body := struct {
		Patient         PatientPayload  `json:"patient"`
		ShippingAddress *AddressPayload `json:"shipping_address,omitempty"`
	}{patient, shipping}

	var out PatientWithAddress
	if err := c.request(ctx, "POST", "/patients", "/patients", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPatient handles GET /patients/{id}
func (c *Client) GetPatient(ctx context.Context, patientID int64) (*Patient, error) {
	var out struct {
		Patient Patient `json:"patient"`
	}
	if err := c.request(ctx, "GET", "/patients/{id}", "/patients/"+id(patientID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Patient, nil
}

// UpdatePatient handles POST /patients/{id}
func (c *Client) UpdatePatient(ctx context.Context, patientID int64, patient PatientPayload) (*Patient, error) {
	var out struct {
		Patient Patient `json:"patient"`
	}
	body := map[string]any{"patient": patient}
	if err := c.request(ctx, "POST", "/patients/{id}", "/patients/"+id(patientID), body, &out); err != nil {
		return nil, err
	}
	return &out.Patient, nil
}

// CreateOrder handles POST /orders
func (c *Client) CreateOrder(ctx context.Context, order OrderPayload) (*Order, error) {
	var out struct {
		Order Order `json:"order"`
	}
	body := map[string]any{"order": order}
	if err := c.request(ctx, "POST", "/orders", "/orders", body, &out); err != nil {
		return nil, err
	}
	return &out.Order, nil
}

// GetOrder handles GET /orders/{id}
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*OrderDetails, error) {
	var out OrderDetails
	if err := c.request(ctx, "GET", "/orders/{id}", "/orders/"+id(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// request performs one attempt. route is the path template used for
// telemetry; path is the concrete request path.
func (c *Client) request(ctx context.Context, method, route, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "healthwarehouse "+method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		))
	defer span.End()

	call := func() (interface{}, error) {
		return nil, c.do(ctx, method, route, path, body, out)
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(ctx, call)
	} else {
		_, err = call()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if status := StatusOf(err); status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	return err
}

func (c *Client) do(ctx context.Context, method, route, path string, body, out any) error {
	start := time.Now()
	errBody := &errorBody{}

	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(errBody)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.metrics.ObserveRemote(method, route, 0, time.Since(start))
		c.logger.Error("healthwarehouse request failed",
			zap.String("method", method),
			zap.String("route", route),
			zap.Error(err))
		return fmt.Errorf("healthwarehouse %s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	c.metrics.ObserveRemote(method, route, status, time.Since(start))

	if status < 200 || status > 299 {
		apiErr := &RemoteAPIError{
			Method:  method,
			Path:    path,
			Status:  status,
			Message: errBody.message(status),
		}
		c.logger.Error("healthwarehouse API error",
			zap.String("method", method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	return nil
}

func id(n int64) string {
	return strconv.FormatInt(n, 10)
}
