package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Status is the payout lifecycle of a commission record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Commission is a snapshot of the platform/doctor split taken when an
// appointment was paid. The rate is frozen at creation; later changes to a
// doctor's settings never rewrite history.
type Commission struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	DoctorID        uuid.UUID
	AmountCents     int64
	Rate            float64
	CommissionCents int64
	PayoutCents     int64
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ErrNotFound is returned when no commission exists for an appointment.
var ErrNotFound = errors.New("commission: not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists commission snapshots and doctor commission settings.
type Store struct {
	db          DB
	defaultRate float64
}

// NewStore creates a commission store. defaultRate applies to doctors without
// configured settings.
func NewStore(db DB, defaultRate float64) *Store {
	if db == nil {
		panic("commission: db required")
	}
	return &Store{db: db, defaultRate: defaultRate}
}

// RateForDoctor returns the doctor's configured commission rate, falling back
// to the platform default when unset.
func (s *Store) RateForDoctor(ctx context.Context, doctorID uuid.UUID) (float64, error) {
	var rate float64
	err := s.db.QueryRow(ctx,
		`SELECT rate FROM doctor_commission_settings WHERE doctor_id = $1`, doctorID).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.defaultRate, nil
		}
		return 0, fmt.Errorf("commission: rate for doctor: %w", err)
	}
	return rate, nil
}

// SetRateForDoctor upserts a doctor's commission rate.
func (s *Store) SetRateForDoctor(ctx context.Context, doctorID uuid.UUID, rate float64) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("commission: rate %v out of [0,1]", rate)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO doctor_commission_settings (doctor_id, rate, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id) DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at`,
		doctorID, rate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("commission: set rate: %w", err)
	}
	return nil
}

// CreateSnapshot records the split for a paid appointment. At most one
// commission exists per appointment; a duplicate create (webhook plus client
// confirm racing) is a silent no-op.
func (s *Store) CreateSnapshot(ctx context.Context, appointmentID, doctorID uuid.UUID, split Split) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO commissions (id, appointment_id, doctor_id, amount_cents, rate, commission_cents, payout_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (appointment_id) DO NOTHING`,
		uuid.New(), appointmentID, doctorID, split.AmountCents, split.Rate,
		split.CommissionCents, split.PayoutCents, string(StatusPending), now)
	if err != nil {
		return fmt.Errorf("commission: create snapshot: %w", err)
	}
	return nil
}

// GetByAppointment loads the commission snapshot for an appointment.
func (s *Store) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Commission, error) {
	var c Commission
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT id, appointment_id, doctor_id, amount_cents, rate, commission_cents, payout_cents, status, created_at, updated_at
		FROM commissions WHERE appointment_id = $1`, appointmentID).
		Scan(&c.ID, &c.AppointmentID, &c.DoctorID, &c.AmountCents, &c.Rate,
			&c.CommissionCents, &c.PayoutCents, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("commission: get by appointment: %w", err)
	}
	c.Status = Status(status)
	return &c, nil
}

// CancelForAppointment marks the commission cancelled when the underlying
// appointment is cancelled or refunded. Missing or already-cancelled rows are
// a no-op.
func (s *Store) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE commissions SET status = $1, updated_at = $2
		WHERE appointment_id = $3 AND status <> $1`,
		string(StatusCancelled), time.Now().UTC(), appointmentID)
	if err != nil {
		return fmt.Errorf("commission: cancel for appointment: %w", err)
	}
	return nil
}

// Reassign re-points a commission snapshot at a rescheduled appointment so
// the paid split follows the booking to its new window.
func (s *Store) Reassign(ctx context.Context, fromAppointmentID, toAppointmentID uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE commissions SET appointment_id = $1, updated_at = $2
		WHERE appointment_id = $3`,
		toAppointmentID, time.Now().UTC(), fromAppointmentID)
	if err != nil {
		return fmt.Errorf("commission: reassign: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
