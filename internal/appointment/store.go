package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when an appointment does not exist.
	ErrNotFound = errors.New("appointment: not found")
	// ErrCapacityExceeded is returned when the window is full at reserve time.
	ErrCapacityExceeded = errors.New("appointment: window capacity exceeded")
	// ErrScheduleNotFound is returned when reserving against an unknown schedule.
	ErrScheduleNotFound = errors.New("appointment: schedule not found")
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for appointments. Capacity is never a counter
// column, it is derived from the set of non-cancelled rows. The only contended
// write is Reserve, which serializes on the schedule row.
type Store struct {
	db DB
}

// NewStore creates an appointment store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("appointment: db required")
	}
	return &Store{db: db}
}

// ReserveParams describes a capacity claim on a schedule window.
type ReserveParams struct {
	ID          uuid.UUID
	ScheduleID  uuid.UUID
	PatientID   uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	Status      Status
	PaymentRef  string
	AmountCents int64
	Notes       string
}

// Reserve claims one capacity unit. The schedule row is locked FOR UPDATE for
// the length of the transaction, so concurrent reserves on the same window
// serialize: each caller counts after every earlier winner has committed, and
// the capacity check cannot pass twice for the last unit. A plain conditional
// insert would not give that guarantee under READ COMMITTED, where two
// statements can both count the same committed snapshot.
func (s *Store) Reserve(ctx context.Context, p ReserveParams) (*Appointment, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = StatusPendingPayment
	}
	now := time.Now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointment: reserve begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doctorID uuid.UUID
	var maxPatients int
	err = tx.QueryRow(ctx,
		`SELECT doctor_id, max_patients FROM schedules WHERE id = $1 FOR UPDATE`,
		p.ScheduleID).Scan(&doctorID, &maxPatients)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("appointment: reserve lock schedule: %w", err)
	}

	var active int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE schedule_id = $1 AND status <> 'CANCELLED'`,
		p.ScheduleID).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("appointment: reserve count: %w", err)
	}
	if active >= maxPatients {
		return nil, ErrCapacityExceeded
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, schedule_id, start_at, end_at, status, payment_ref, amount_cents, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		p.ID, p.PatientID, doctorID, p.ScheduleID, p.StartAt.UTC(), p.EndAt.UTC(),
		string(p.Status), p.PaymentRef, p.AmountCents, p.Notes, now,
	); err != nil {
		return nil, fmt.Errorf("appointment: reserve insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointment: reserve commit: %w", err)
	}
	return s.GetByID(ctx, p.ID)
}

// GetByID loads an appointment.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, schedule_id, start_at, end_at, status, payment_ref, amount_cents, notes, created_at, updated_at
		FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointment: get: %w", err)
	}
	return a, nil
}

// Transition moves an appointment from one status to another. The current
// status is part of the WHERE clause, so concurrent transitions serialize on
// the row: exactly one caller observes updated=true, the rest see false and
// must re-read to decide whether the outcome is acceptable.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("appointment: transition %s->%s: %w", from, to, err)
	}
	return ct.RowsAffected() > 0, nil
}

// SetPaymentRef links an external payment intent to the appointment.
func (s *Store) SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE appointments SET payment_ref = $1, updated_at = $2 WHERE id = $3`,
		ref, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("appointment: set payment ref: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActive returns the number of non-cancelled appointments per schedule
// for the given schedule ids. Schedules with no appointments are absent from
// the result map.
func (s *Store) CountActive(ctx context.Context, scheduleIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if len(scheduleIDs) == 0 {
		return map[uuid.UUID]int{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT schedule_id, COUNT(*)
		FROM appointments
		WHERE schedule_id = ANY($1) AND status <> 'CANCELLED'
		GROUP BY schedule_id`, scheduleIDs)
	if err != nil {
		return nil, fmt.Errorf("appointment: count active: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int, len(scheduleIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("appointment: scan count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointment: count rows: %w", err)
	}
	return counts, nil
}

// ListStalePendingPayment returns PENDING_PAYMENT appointments created before
// the cutoff, oldest first.
func (s *Store) ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, patient_id, doctor_id, schedule_id, start_at, end_at, status, payment_ref, amount_cents, notes, created_at, updated_at
		FROM appointments
		WHERE status = 'PENDING_PAYMENT' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("appointment: list stale: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment: scan stale: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointment: stale rows: %w", err)
	}
	return out, nil
}

// ListForPatient returns a patient's appointments, newest first.
func (s *Store) ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, patient_id, doctor_id, schedule_id, start_at, end_at, status, payment_ref, amount_cents, notes, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_at DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("appointment: list for patient: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment: scan: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointment: patient rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduleID, &a.StartAt, &a.EndAt,
		&status, &a.PaymentRef, &a.AmountCents, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}
