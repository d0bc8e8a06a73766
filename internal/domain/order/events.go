package order

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
)

// EventType represents the type of domain event
type EventType string

const (
	EventOrderSubmitted EventType = "OrderSubmitted"
)

// AggregateType tags order events in the outbox.
const AggregateType = "PharmacyOrder"

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// OrderSubmittedData is the full order as requested, including the fields
// HealthWarehouse does not accept.
type OrderSubmittedData struct {
	OrderID           int64                          `json:"order_id"`
	IntakeKey         string                         `json:"intakeq_id"`
	CustomerID        int64                          `json:"customer_id"`
	PatientID         int64                          `json:"patient_id"`
	BillingAddressID  int64                          `json:"billing_address_id"`
	ShippingAddressID int64                          `json:"shipping_address_id"`
	ShippingMethod    healthwarehouse.ShippingMethod `json:"shipping_method"`
	OrderComment      string                         `json:"order_comment,omitempty"`
	LineItems         []LineItem                     `json:"line_items"`
	Prescriber        Prescriber                     `json:"prescriber"`
	SubmittedAt       time.Time                      `json:"submitted_at"`
}

// EventRecorder stores events for asynchronous publication.
type EventRecorder interface {
	Record(ctx context.Context, event *Event) error
}

func orderAggregateID(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
