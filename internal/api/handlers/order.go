// Package handlers provides HTTP handlers for the order API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/api/middleware"
	"github.com/drfirst/go-rxbridge/internal/domain/order"
	"github.com/drfirst/go-rxbridge/internal/domain/patient"
	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
	"github.com/drfirst/go-rxbridge/pkg/idempotency"
)

// maxBodyBytes caps inbound order payloads.
const maxBodyBytes = 1 << 20

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	createHandlerName = "create-order"
)

// OrderSubmitter places orders.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req order.Request) (*order.Summary, error)
}

// OrderLookup reads placed orders back from the pharmacy.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID int64) (*healthwarehouse.OrderDetails, error)
}

// Replayer runs a request at most once per idempotency key.
type Replayer interface {
	Process(ctx context.Context, key, handlerName string, payload []byte, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// OrderHandler handles order endpoints
type OrderHandler struct {
	orders OrderSubmitter
	lookup OrderLookup
	replay Replayer
	logger *zap.Logger
}

// NewOrderHandler creates a new handler
func NewOrderHandler(orders OrderSubmitter, lookup OrderLookup, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, lookup: lookup, logger: logger}
}

// WithIdempotency honors the Idempotency-Key header on order creation.
func (h *OrderHandler) WithIdempotency(r Replayer) *OrderHandler {
	h.replay = r
	return h
}

// Register adds the order routes to r
func (h *OrderHandler) Register(r chi.Router) {
	r.Post("/create-order", h.Create)
	r.Get("/orders/{id}", h.Get)
}

type createResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    *order.Summary `json:"data"`
}

type validationResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Create handles POST /create-order
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req order.Request
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Error:   "Validation error",
			Details: map[string]string{"body": "Request body must be valid JSON matching the order schema"},
		})
		return
	}

	if err := req.Validate(); err != nil {
		h.validationError(w, err)
		return
	}

	summary, replayed, err := h.submit(r.Context(), r.Header.Get(idempotencyHeader), raw, req)
	switch {
	case err == nil:
	case errors.Is(err, idempotency.ErrInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, idempotency.ErrKeyReused):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case patient.IsValidation(err):
		h.validationError(w, err)
		return
	default:
		h.logger.Error("error creating pharmacy order",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("intake_key", req.Patient.IntakeKey),
			zap.Int("remote_status", healthwarehouse.StatusOf(err)),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failureResponse{Message: publicMessage(err)})
		return
	}

	if replayed {
		w.Header().Set(replayedHeader, "true")
	}
	writeJSON(w, http.StatusCreated, createResponse{
		Success: true,
		Message: "Order created successfully",
		Data:    summary,
	})
}

// submit places the order, going through the inbox when the caller sent a key.
func (h *OrderHandler) submit(ctx context.Context, key string, raw []byte, req order.Request) (*order.Summary, bool, error) {
	if key == "" || h.replay == nil {
		summary, err := h.orders.SubmitOrder(ctx, req)
		return summary, false, err
	}

	res, err := h.replay.Process(ctx, key, createHandlerName, raw, func(ctx context.Context) (json.RawMessage, error) {
		summary, err := h.orders.SubmitOrder(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(summary)
	})
	if err != nil {
		return nil, false, err
	}

	var summary order.Summary
	if err := json.Unmarshal(res.Result, &summary); err != nil {
		return nil, false, fmt.Errorf("decode stored result: %w", err)
	}
	return &summary, res.Replayed, nil
}

// Get handles GET /orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		jsonError(w, "invalid order id", http.StatusBadRequest)
		return
	}

	details, err := h.lookup.GetOrder(r.Context(), orderID)
	if err != nil {
		if healthwarehouse.IsNotFound(err) {
			jsonError(w, "order not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get order", zap.Int64("order_id", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failureResponse{Message: publicMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": details})
}

func (h *OrderHandler) validationError(w http.ResponseWriter, err error) {
	details := map[string]string{}
	var many patient.ValidationErrors
	var one patient.ValidationError
	switch {
	case errors.As(err, &many):
		details = many.Details()
	case errors.As(err, &one):
		details[one.Field] = one.Message
	}
	writeJSON(w, http.StatusBadRequest, validationResponse{
		Error:   "Validation error",
		Details: details,
	})
}

// publicMessage returns the message of the error that caused the failure,
// without the call-site prefixes added while it propagated.
func publicMessage(err error) string {
	var notFound *patient.NotFoundError
	var writeErr *patient.WriteError
	var apiErr *healthwarehouse.RemoteAPIError
	switch {
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &writeErr):
		return writeErr.Error()
	case errors.As(err, &apiErr):
		return apiErr.Error()
	}
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
