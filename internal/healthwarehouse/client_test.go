package healthwarehouse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxbridge/pkg/circuitbreaker"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]json.RawMessage
}

func newTestServer(t *testing.T, status int, response string) (*Client, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.Body))
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret-key"}, nil, nil, nil)
	return client, &requests
}

func TestGetCustomer(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{
		"customer": {
			"id": 41053,
			"first_name": "Clinic",
			"last_name": "Account",
			"billing_addresses": [{"address_id": 7, "first_name": "Clinic", "last_name": "Account"}],
			"shipping_addresses": [{"address_id": 8}]
		}
	}`)

	customer, err := client.GetCustomer(context.Background(), 41053)
	require.NoError(t, err)

	assert.Equal(t, int64(41053), customer.ID)
	billing, ok := customer.PrimaryBillingAddress()
	require.True(t, ok)
	assert.Equal(t, int64(7), billing.AddressID)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/customers/41053", req.Path)
	assert.Equal(t, "Bearer secret-key", req.Auth)
}

func TestCreatePatientWithAddress(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{
		"patient": {"id": 13736, "customer_id": 41053, "first_name": "Ada"},
		"shipping_address": {"address_id": 991}
	}`)

	pregnant := false
	result, err := client.CreatePatientWithAddress(context.Background(),
		PatientPayload{
			CustomerID: 41053,
			FirstName:  "Ada",
			Pregnant:   &pregnant,
			Metadata:   &PatientMetadata{PartnerPatientID: "iq-1"},
		},
		&AddressPayload{FirstName: "Ada", Country: DefaultCountry},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(13736), result.Patient.ID)
	assert.Equal(t, int64(991), result.ShippingAddress.AddressID)

	req := (*requests)[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/patients", req.Path)
	assert.Contains(t, req.Body, "patient")
	assert.Contains(t, req.Body, "shipping_address")

	var sent map[string]any
	require.NoError(t, json.Unmarshal(req.Body["patient"], &sent))
	assert.Equal(t, false, sent["pregnant"])
	assert.Equal(t, map[string]any{"partner_patient_id": "iq-1"}, sent["metadata"])
}

func TestCreatePatientWithoutAddressOmitsField(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{"patient": {"id": 1}}`)

	_, err := client.CreatePatientWithAddress(context.Background(), PatientPayload{FirstName: "Ada"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, (*requests)[0].Body, "shipping_address")
}

func TestUpdateCustomerAddressPath(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{"success": true, "status": 200, "message": "success", "address": {"address_id": 55}}`)

	addr, err := client.UpdateCustomerAddress(context.Background(), 41053, 55, ShippingAddress, AddressPayload{City: "Austin"})
	require.NoError(t, err)
	assert.Equal(t, int64(55), addr.AddressID)

	req := (*requests)[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/customers/41053/shipping_address/55", req.Path)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(req.Body["address"], &sent))
	assert.Equal(t, map[string]any{"city": "Austin"}, sent)
}

func TestCreateOrder(t *testing.T) {
	client, requests := newTestServer(t, http.StatusOK, `{
		"success": true, "status": 200, "message": "success",
		"order": {"id": 43165, "patient_id": 13736, "customer_id": 41053, "shipping_method": "standard", "line_items": [{"product_id": 100, "qty": 1}]}
	}`)

	order, err := client.CreateOrder(context.Background(), OrderPayload{
		CustomerID:     41053,
		PatientID:      13736,
		ShippingMethod: ShippingStandard,
		LineItems:      []LineItem{{ProductID: 100, Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(43165), order.ID)
	assert.Equal(t, "/orders", (*requests)[0].Path)
}

func TestGetOrder(t *testing.T) {
	client, _ := newTestServer(t, http.StatusOK, `{
		"order": {"id": 43165, "status": "processing", "shipping_method": "standard", "line_items": []},
		"billing_address": {"address_id": 7},
		"shipping_address": {"address_id": 8}
	}`)

	details, err := client.GetOrder(context.Background(), 43165)
	require.NoError(t, err)
	assert.Equal(t, OrderProcessing, details.Order.Status)
	assert.Equal(t, int64(7), details.BillingAddress.AddressID)
	assert.Equal(t, int64(8), details.ShippingAddress.AddressID)
}

func TestRemoteAPIErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"error field", http.StatusBadRequest, `{"error": "invalid product"}`, "invalid product"},
		{"message field", http.StatusUnprocessableEntity, `{"status": 422, "message": "out of stock"}`, "out of stock"},
		{"non-string error falls back to message", http.StatusBadRequest, `{"error": true, "message": "bad dob"}`, "bad dob"},
		{"status text fallback", http.StatusServiceUnavailable, `{}`, "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, tt.status, tt.body)

			_, err := client.CreateOrder(context.Background(), OrderPayload{})
			require.Error(t, err)

			var apiErr *RemoteAPIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, "HealthWarehouse API Error: "+tt.message, err.Error())
		})
	}
}

func TestNotFound(t *testing.T) {
	client, _ := newTestServer(t, http.StatusNotFound, `{"message": "patient not found"}`)

	_, err := client.GetPatient(context.Background(), 99)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsClientError(err))
}

func TestNoRetryOnServerError(t *testing.T) {
	client, requests := newTestServer(t, http.StatusInternalServerError, `{"message": "boom"}`)

	_, err := client.GetPatient(context.Background(), 1)
	require.Error(t, err)
	assert.Len(t, *requests, 1)
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	client, requests := newTestServer(t, http.StatusBadRequest, `{"message": "bad"}`)

	cfg := circuitbreaker.DefaultConfig("healthwarehouse")
	cfg.FailureThreshold = 1
	cfg.Neutral = IsClientError
	breaker, err := circuitbreaker.New(cfg, nil)
	require.NoError(t, err)
	client.breaker = breaker

	for i := 0; i < 3; i++ {
		_, err := client.GetPatient(context.Background(), 1)
		assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	}
	assert.Len(t, *requests, 3)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.GetState())
}
