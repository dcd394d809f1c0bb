package schedule

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
	// ErrNotFound is returned when a schedule or exception does not exist.
	ErrNotFound = errors.New("schedule: not found")
	// ErrInUse is returned when a schedule still has active appointments.
	ErrInUse = errors.New("schedule: has active appointments")
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for schedules and schedule exceptions.
type Store struct {
	db DB
}

// NewStore creates a schedule store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("schedule: db required")
	}
	return &Store{db: db}
}

// CreateSchedule inserts a capacity window template.
func (s *Store) CreateSchedule(ctx context.Context, sc *Schedule) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	if sc.MaxPatients < 1 {
		return fmt.Errorf("schedule: max patients must be >= 1, got %d", sc.MaxPatients)
	}
	if sc.EndTime <= sc.StartTime {
		return fmt.Errorf("schedule: end time %s must be after start time %s", sc.EndTime, sc.StartTime)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO schedules (id, doctor_id, date, start_time, end_time, max_patients, price_cents, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sc.ID, sc.DoctorID, dateOnly(sc.Date), sc.StartTime.String(), sc.EndTime.String(),
		sc.MaxPatients, sc.PriceCents, sc.CreatedBy, sc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("schedule: create: %w", err)
	}
	return nil
}

// GetSchedule loads a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, doctor_id, date, start_time, end_time, max_patients, price_cents, created_by, created_at
		FROM schedules WHERE id = $1`, id)
	sc, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedule: get: %w", err)
	}
	return sc, nil
}

// ListForDoctor returns a doctor's schedules within [from, to], ordered by
// date then start time.
func (s *Store) ListForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Schedule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, doctor_id, date, start_time, end_time, max_patients, price_cents, created_by, created_at
		FROM schedules
		WHERE doctor_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC, start_time ASC`,
		doctorID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("schedule: list for doctor: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("schedule: scan: %w", err)
		}
		out = append(out, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: list rows: %w", err)
	}
	return out, nil
}

// DeleteSchedule removes a schedule unless active appointments still reference
// it. The existence check and delete run as one statement so a concurrent
// booking cannot slip in between.
func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		DELETE FROM schedules s
		WHERE s.id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.schedule_id = s.id AND a.status <> 'CANCELLED'
		  )`, id)
	if err != nil {
		return fmt.Errorf("schedule: delete: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRow(ctx, `SELECT 1 FROM schedules WHERE id = $1`, id).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("schedule: delete check: %w", err)
	}
	return ErrInUse
}

// CreateException inserts an availability override.
func (s *Store) CreateException(ctx context.Context, e *ScheduleException) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Type != ExceptionAvailable && e.Type != ExceptionUnavailable {
		return fmt.Errorf("schedule: invalid exception type %q", e.Type)
	}
	if dateOnly(e.EndDate).Before(dateOnly(e.StartDate)) {
		return fmt.Errorf("schedule: exception end date before start date")
	}
	var startTime, endTime *string
	if e.StartTime != nil {
		v := e.StartTime.String()
		startTime = &v
	}
	if e.EndTime != nil {
		v := e.EndTime.String()
		endTime = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO schedule_exceptions (id, doctor_id, type, start_date, end_date, start_time, end_time, reason, label, max_patients, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.DoctorID, string(e.Type), dateOnly(e.StartDate), dateOnly(e.EndDate),
		startTime, endTime, string(e.Reason), e.Label, e.MaxPatients, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("schedule: create exception: %w", err)
	}
	return nil
}

// CreateAvailabilityBlock inserts an AVAILABLE override together with the ad
// hoc schedules that make its capacity bookable, one per covered date, in a
// single transaction. The template supplies times, capacity and price; its
// Date is ignored.
func (s *Store) CreateAvailabilityBlock(ctx context.Context, e *ScheduleException, tmpl Schedule) error {
	if e.Type != ExceptionAvailable {
		return fmt.Errorf("schedule: availability block needs an AVAILABLE exception, got %q", e.Type)
	}
	if e.DoctorID == nil {
		return fmt.Errorf("schedule: availability block needs a doctor")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if dateOnly(e.EndDate).Before(dateOnly(e.StartDate)) {
		return fmt.Errorf("schedule: exception end date before start date")
	}
	if tmpl.MaxPatients < 1 {
		return fmt.Errorf("schedule: max patients must be >= 1, got %d", tmpl.MaxPatients)
	}
	if tmpl.EndTime <= tmpl.StartTime {
		return fmt.Errorf("schedule: end time %s must be after start time %s", tmpl.EndTime, tmpl.StartTime)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("schedule: availability block begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var startTime, endTime *string
	if e.StartTime != nil {
		v := e.StartTime.String()
		startTime = &v
	}
	if e.EndTime != nil {
		v := e.EndTime.String()
		endTime = &v
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO schedule_exceptions (id, doctor_id, type, start_date, end_date, start_time, end_time, reason, label, max_patients, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.DoctorID, string(e.Type), dateOnly(e.StartDate), dateOnly(e.EndDate),
		startTime, endTime, string(e.Reason), e.Label, e.MaxPatients, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("schedule: availability block exception: %w", err)
	}

	for d := dateOnly(e.StartDate); !d.After(dateOnly(e.EndDate)); d = d.AddDate(0, 0, 1) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO schedules (id, doctor_id, date, start_time, end_time, max_patients, price_cents, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), *e.DoctorID, d, tmpl.StartTime.String(), tmpl.EndTime.String(),
			tmpl.MaxPatients, tmpl.PriceCents, tmpl.CreatedBy, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("schedule: availability block schedule for %s: %w", d.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("schedule: availability block commit: %w", err)
	}
	return nil
}

// ListExceptions returns exceptions affecting the doctor within [from, to],
// including all-doctors rows.
func (s *Store) ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]ScheduleException, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, doctor_id, type, start_date, end_date, start_time, end_time, reason, label, max_patients, created_at
		FROM schedule_exceptions
		WHERE (doctor_id IS NULL OR doctor_id = $1)
		  AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date ASC`,
		doctorID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("schedule: list exceptions: %w", err)
	}
	defer rows.Close()

	var out []ScheduleException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("schedule: scan exception: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: exception rows: %w", err)
	}
	return out, nil
}

// DeleteException removes an availability override.
func (s *Store) DeleteException(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM schedule_exceptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("schedule: delete exception: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sc Schedule
	var startTime, endTime string
	if err := row.Scan(&sc.ID, &sc.DoctorID, &sc.Date, &startTime, &endTime,
		&sc.MaxPatients, &sc.PriceCents, &sc.CreatedBy, &sc.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if sc.StartTime, err = ParseTimeOfDay(startTime); err != nil {
		return nil, err
	}
	if sc.EndTime, err = ParseTimeOfDay(endTime); err != nil {
		return nil, err
	}
	sc.Date = dateOnly(sc.Date)
	return &sc, nil
}

func scanException(row rowScanner) (*ScheduleException, error) {
	var e ScheduleException
	var typ, reason string
	var startTime, endTime *string
	if err := row.Scan(&e.ID, &e.DoctorID, &typ, &e.StartDate, &e.EndDate,
		&startTime, &endTime, &reason, &e.Label, &e.MaxPatients, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = ExceptionType(typ)
	e.Reason = ExceptionReason(reason)
	if startTime != nil {
		tod, err := ParseTimeOfDay(*startTime)
		if err != nil {
			return nil, err
		}
		e.StartTime = &tod
	}
	if endTime != nil {
		tod, err := ParseTimeOfDay(*endTime)
		if err != nil {
			return nil, err
		}
		e.EndTime = &tod
	}
	e.StartDate = dateOnly(e.StartDate)
	e.EndDate = dateOnly(e.EndDate)
	return &e, nil
}
