package patient

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
	"github.com/drfirst/go-rxbridge/internal/observability/metrics"
)

// PharmacyAPI is the part of the HealthWarehouse client the resolver uses.
type PharmacyAPI interface {
	GetCustomer(ctx context.Context, customerID int64) (*healthwarehouse.Customer, error)
	CreatePatientWithAddress(ctx context.Context, patient healthwarehouse.PatientPayload, shipping *healthwarehouse.AddressPayload) (*healthwarehouse.PatientWithAddress, error)
	GetPatient(ctx context.Context, patientID int64) (*healthwarehouse.Patient, error)
	UpdatePatient(ctx context.Context, patientID int64, patient healthwarehouse.PatientPayload) (*healthwarehouse.Patient, error)
	UpdateCustomerAddress(ctx context.Context, customerID, addressID int64, addressType healthwarehouse.AddressType, address healthwarehouse.AddressPayload) (*healthwarehouse.Address, error)
}

// ResolvedIdentity is everything needed to place an order for a patient.
type ResolvedIdentity struct {
	CustomerID        int64
	PatientID         int64
	BillingAddressID  int64
	ShippingAddressID int64
}

// ResolverConfig holds resolver configuration
type ResolverConfig struct {
	// CustomerID is the fixed HealthWarehouse account all patients belong to.
	CustomerID int64
	// Locker, when set, is held from lookup until the mapping is written.
	// Store calls then go through the Store it returns.
	Locker  KeyLocker
	Metrics *metrics.Metrics
}

// Resolver finds or creates the HealthWarehouse records for an intake patient.
type Resolver struct {
	api    PharmacyAPI
	store  Store
	config ResolverConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewResolver creates a resolver
func NewResolver(api PharmacyAPI, store Store, cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		api:    api,
		store:  store,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("patient-resolver"),
	}
}

// plan is decided once from the mapping lookup.
type plan interface{ branch() string }

// createAndLink: no mapping; create the remote patient and address, then record them.
type createAndLink struct{}

// fetchUpdateAndRelink: mapping present; update the remote records it points to.
type fetchUpdateAndRelink struct{ mapping *Mapping }

func (createAndLink) branch() string        { return "created" }
func (fetchUpdateAndRelink) branch() string { return "updated" }

func planFor(m *Mapping) plan {
	if m == nil {
		return createAndLink{}
	}
	return fetchUpdateAndRelink{mapping: m}
}

// Resolve returns the identity for in, creating or updating remote records.
// The local mapping is the only branch discriminant; no remote search is made.
func (r *Resolver) Resolve(ctx context.Context, in Payload) (*ResolvedIdentity, error) {
	if in.IntakeKey == "" {
		var errs ValidationErrors
		errs.Add("patient.intakeq_id", "IntakeQ ID is required")
		return nil, errs
	}

	ctx, span := r.tracer.Start(ctx, "resolve_patient")
	defer span.End()

	store := r.store
	if r.config.Locker != nil {
		locked, unlock, err := r.config.Locker.Lock(ctx, in.IntakeKey)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("lock intake key: %w", err)
		}
		defer unlock()
		store = locked
	}

	mapping, err := store.Lookup(ctx, in.IntakeKey)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lookup patient mapping: %w", err)
	}

	var identity *ResolvedIdentity
	p := planFor(mapping)
	span.SetAttributes(attribute.String("branch", p.branch()))

	switch p := p.(type) {
	case createAndLink:
		identity, err = r.createAndLink(ctx, store, in)
	case fetchUpdateAndRelink:
		identity, err = r.fetchUpdateAndRelink(ctx, store, in, p.mapping)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.config.Metrics.PatientResolved(p.branch())
	r.logger.Info("patient resolved",
		zap.String("intake_key", in.IntakeKey),
		zap.String("branch", p.branch()),
		zap.Int64("hw_patient_id", identity.PatientID),
		zap.Int64("hw_shipping_address_id", identity.ShippingAddressID))

	return identity, nil
}

func (r *Resolver) createAndLink(ctx context.Context, store Store, in Payload) (*ResolvedIdentity, error) {
	if err := in.validateForCreate(); err != nil {
		return nil, err
	}

	customer, billingID, err := r.customer(ctx)
	if err != nil {
		return nil, err
	}

	address := in.shippingAddress()
	created, err := r.api.CreatePatientWithAddress(ctx, in.newPatient(customer.ID), &address)
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}

	if _, err := store.Create(ctx, in.IntakeKey, created.Patient.ID, created.ShippingAddress.AddressID); err != nil {
		// The remote patient now exists without a mapping; nothing is compensated.
		r.logger.Error("patient created remotely but mapping not stored",
			zap.String("intake_key", in.IntakeKey),
			zap.Int64("hw_patient_id", created.Patient.ID),
			zap.Int64("hw_shipping_address_id", created.ShippingAddress.AddressID),
			zap.Error(err))
		return nil, err
	}

	return &ResolvedIdentity{
		CustomerID:        customer.ID,
		PatientID:         created.Patient.ID,
		BillingAddressID:  billingID,
		ShippingAddressID: created.ShippingAddress.AddressID,
	}, nil
}

func (r *Resolver) fetchUpdateAndRelink(ctx context.Context, store Store, in Payload, m *Mapping) (*ResolvedIdentity, error) {
	customer, billingID, err := r.customer(ctx)
	if err != nil {
		return nil, err
	}

	remote, err := r.api.GetPatient(ctx, m.RemotePatientID)
	if err != nil {
		if healthwarehouse.IsNotFound(err) {
			return nil, &NotFoundError{Kind: "patient", ID: m.RemotePatientID, Err: err}
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}

	updated, err := r.api.UpdatePatient(ctx, m.RemotePatientID, Merge(remote, in))
	if err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}

	address, err := r.api.UpdateCustomerAddress(ctx, customer.ID, m.RemoteShippingAddressID,
		healthwarehouse.ShippingAddress, in.shippingAddress())
	if err != nil {
		return nil, fmt.Errorf("update shipping address: %w", err)
	}

	if _, err := store.UpdateShippingAddress(ctx, in.IntakeKey, address.AddressID); err != nil {
		return nil, err
	}

	return &ResolvedIdentity{
		CustomerID:        customer.ID,
		PatientID:         updated.ID,
		BillingAddressID:  billingID,
		ShippingAddressID: address.AddressID,
	}, nil
}

// customer fetches the fixed account and its first billing address.
func (r *Resolver) customer(ctx context.Context) (*healthwarehouse.Customer, int64, error) {
	customer, err := r.api.GetCustomer(ctx, r.config.CustomerID)
	if err != nil {
		return nil, 0, fmt.Errorf("get customer: %w", err)
	}
	billing, ok := customer.PrimaryBillingAddress()
	if !ok {
		return nil, 0, fmt.Errorf("customer %d has no billing address", customer.ID)
	}
	return customer, billing.AddressID, nil
}
