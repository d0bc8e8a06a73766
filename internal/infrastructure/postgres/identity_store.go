package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxbridge/internal/domain/patient"
)

// rowQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const mappingColumns = `id, intakeq_patient_id, hw_patient_id, hw_shipping_address_id, created_at, updated_at`

// IdentityStore keeps intake key to HealthWarehouse mappings in the patients table.
type IdentityStore struct {
	db     rowQuerier
	logger *zap.Logger
}

// NewIdentityStore creates a store over db.
func NewIdentityStore(db rowQuerier, logger *zap.Logger) *IdentityStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityStore{db: db, logger: logger}
}

var _ patient.Store = (*IdentityStore)(nil)

// Lookup returns the mapping for intakeKey, or nil when none exists.
func (s *IdentityStore) Lookup(ctx context.Context, intakeKey string) (*patient.Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM patients WHERE intakeq_patient_id = $1`

	m, err := scanMapping(s.db.QueryRow(ctx, query, intakeKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select patient mapping: %w", err)
	}
	return m, nil
}

// Create inserts a new mapping. An existing row for intakeKey is left
// untouched and reported as a write failure.
func (s *IdentityStore) Create(ctx context.Context, intakeKey string, remotePatientID, remoteShippingAddressID int64) (*patient.Mapping, error) {
	query := `
		INSERT INTO patients (intakeq_patient_id, hw_patient_id, hw_shipping_address_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (intakeq_patient_id) DO NOTHING
		RETURNING ` + mappingColumns

	m, err := scanMapping(s.db.QueryRow(ctx, query, intakeKey, remotePatientID, remoteShippingAddressID))
	if err != nil {
		return nil, s.writeError("create patient mapping", intakeKey, err)
	}

	s.logger.Debug("patient mapping created",
		zap.Int64("id", m.ID),
		zap.String("intake_key", intakeKey))
	return m, nil
}

// UpdateShippingAddress records a new shipping address for the mapping keyed by intakeKey.
func (s *IdentityStore) UpdateShippingAddress(ctx context.Context, intakeKey string, remoteShippingAddressID int64) (*patient.Mapping, error) {
	query := `
		UPDATE patients
		SET hw_shipping_address_id = $1, updated_at = NOW()
		WHERE intakeq_patient_id = $2
		RETURNING ` + mappingColumns

	m, err := scanMapping(s.db.QueryRow(ctx, query, remoteShippingAddressID, intakeKey))
	if err != nil {
		return nil, s.writeError("update patient mapping", intakeKey, err)
	}
	return m, nil
}

// writeError reports a statement that returned no row as a bare WriteError
// and keeps any driver error as its cause.
func (s *IdentityStore) writeError(op, intakeKey string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &patient.WriteError{Op: op, IntakeKey: intakeKey}
	}
	return &patient.WriteError{Op: op, IntakeKey: intakeKey, Err: err}
}

func scanMapping(row pgx.Row) (*patient.Mapping, error) {
	m := &patient.Mapping{}
	err := row.Scan(
		&m.ID, &m.IntakeKey, &m.RemotePatientID,
		&m.RemoteShippingAddressID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
