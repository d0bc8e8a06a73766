// Package patient reconciles intake patients with HealthWarehouse patients.
package patient

import (
	"context"
	"time"
)

// Mapping links an intake patient key to the HealthWarehouse records created for it.
type Mapping struct {
	ID                      int64     `json:"id"`
	IntakeKey               string    `json:"intakeq_patient_id"`
	RemotePatientID         int64     `json:"hw_patient_id"`
	RemoteShippingAddressID int64     `json:"hw_shipping_address_id"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Store persists mappings keyed by intake key. At most one mapping exists per key.
type Store interface {
	// Lookup returns nil and no error when no mapping exists.
	Lookup(ctx context.Context, intakeKey string) (*Mapping, error)
	// Create fails with a *WriteError when no row is inserted.
	Create(ctx context.Context, intakeKey string, remotePatientID, remoteShippingAddressID int64) (*Mapping, error)
	// UpdateShippingAddress fails with a *WriteError when no row is updated.
	UpdateShippingAddress(ctx context.Context, intakeKey string, remoteShippingAddressID int64) (*Mapping, error)
}

// KeyLocker serializes resolutions of the same intake key across requests
// and processes. The returned Store runs on the resource holding the lock
// and must be used for every store call until unlock. unlock must be called
// exactly once.
type KeyLocker interface {
	Lock(ctx context.Context, intakeKey string) (store Store, unlock func(), err error)
}
