// Package order submits pharmacy orders for resolved patients.
package order

import (
	"fmt"

	"github.com/drfirst/go-rxbridge/internal/domain/patient"
	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
)

// DefaultShippingMethod is used when a request names none.
const DefaultShippingMethod = healthwarehouse.ShippingStandard

// Prescriber identifies who wrote the prescription. It is not sent to
// HealthWarehouse but travels with the order event.
type Prescriber struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Fax        string `json:"fax,omitempty"`
}

// LineItem is one requested product.
type LineItem struct {
	ProductID         int64  `json:"product_id"`
	MedicationDetails string `json:"medication_details"`
}

// Request is a validated pharmacy order request.
type Request struct {
	Patient        patient.Payload                `json:"patient"`
	Prescriber     Prescriber                     `json:"prescriber"`
	LineItems      []LineItem                     `json:"line_items"`
	OrderComment   string                         `json:"order_comment,omitempty"`
	ShippingMethod healthwarehouse.ShippingMethod `json:"shipping_method,omitempty"`
}

// Summary is returned for a placed order.
type Summary struct {
	OrderID    int64 `json:"orderId"`
	PatientID  int64 `json:"patientId"`
	CustomerID int64 `json:"customerId"`
}

// Validate checks the request shape. It returns patient.ValidationErrors.
func (r *Request) Validate() error {
	errs := r.Patient.Validate("patient.")

	if r.Prescriber.FirstName == "" {
		errs.Add("prescriber.first_name", "Prescriber first name is required")
	}
	if r.Prescriber.LastName == "" {
		errs.Add("prescriber.last_name", "Prescriber last name is required")
	}

	if len(r.LineItems) == 0 {
		errs.Add("line_items", "At least one line item is required")
	}
	for i, item := range r.LineItems {
		if item.ProductID <= 0 {
			errs.Add(fmt.Sprintf("line_items.%d.product_id", i), "Product ID must be a positive integer")
		}
		if item.MedicationDetails == "" {
			errs.Add(fmt.Sprintf("line_items.%d.medication_details", i), "Medication details are required")
		}
	}

	if r.ShippingMethod != "" && !r.ShippingMethod.Valid() {
		errs.Add("shipping_method", "Unknown shipping method")
	}

	return errs.Err()
}

func (r *Request) shippingMethod() healthwarehouse.ShippingMethod {
	if r.ShippingMethod == "" {
		return DefaultShippingMethod
	}
	return r.ShippingMethod
}
