package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func appointmentRow(a Appointment) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "patient_id", "doctor_id", "schedule_id", "start_at", "end_at",
		"status", "payment_ref", "amount_cents", "notes", "created_at", "updated_at",
	}).AddRow(a.ID, a.PatientID, a.DoctorID, a.ScheduleID, a.StartAt, a.EndAt,
		string(a.Status), a.PaymentRef, a.AmountCents, a.Notes, a.CreatedAt, a.UpdatedAt)
}

func TestReserveLocksScheduleAndInserts(t *testing.T) {
	store, mock := newMockStore(t)
	scheduleID, patientID, doctorID := uuid.New(), uuid.New(), uuid.New()
	startAt := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT doctor_id, max_patients FROM schedules WHERE id = (.+) FOR UPDATE").
		WithArgs(scheduleID).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "max_patients"}).AddRow(doctorID, 2))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(scheduleID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), patientID, doctorID, scheduleID, startAt, startAt.Add(time.Hour),
			"PENDING_PAYMENT", "", int64(5000), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(appointmentRow(Appointment{
			ID: uuid.New(), PatientID: patientID, DoctorID: doctorID, ScheduleID: scheduleID,
			StartAt: startAt, EndAt: startAt.Add(time.Hour), Status: StatusPendingPayment,
			AmountCents: 5000, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))

	a, err := store.Reserve(context.Background(), ReserveParams{
		ScheduleID: scheduleID, PatientID: patientID,
		StartAt: startAt, EndAt: startAt.Add(time.Hour), AmountCents: 5000,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if a.Status != StatusPendingPayment {
		t.Errorf("expected PENDING_PAYMENT, got %s", a.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveCapacityExceeded(t *testing.T) {
	store, mock := newMockStore(t)
	scheduleID, doctorID := uuid.New(), uuid.New()

	// With the schedule row locked, the count already equals max_patients:
	// nothing is inserted and the transaction rolls back.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT doctor_id, max_patients FROM schedules WHERE id = (.+) FOR UPDATE").
		WithArgs(scheduleID).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "max_patients"}).AddRow(doctorID, 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(scheduleID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.Reserve(context.Background(), ReserveParams{
		ScheduleID: scheduleID, PatientID: uuid.New(),
		StartAt: time.Now(), EndAt: time.Now().Add(time.Hour),
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveScheduleMissing(t *testing.T) {
	store, mock := newMockStore(t)
	scheduleID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT doctor_id, max_patients FROM schedules WHERE id = (.+) FOR UPDATE").
		WithArgs(scheduleID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.Reserve(context.Background(), ReserveParams{
		ScheduleID: scheduleID, PatientID: uuid.New(),
		StartAt: time.Now(), EndAt: time.Now().Add(time.Hour),
	})
	if !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionGuards(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs("CONFIRMED", pgxmock.AnyArg(), id, "PENDING_PAYMENT").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	updated, err := store.Transition(context.Background(), id, StatusPendingPayment, StatusConfirmed)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !updated {
		t.Error("expected transition to apply")
	}

	// Second transition races and loses: zero rows updated, no error.
	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs("CANCELLED", pgxmock.AnyArg(), id, "PENDING_PAYMENT").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	updated, err = store.Transition(context.Background(), id, StatusPendingPayment, StatusCancelled)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated {
		t.Error("expected race loser to observe no update")
	}
}

func TestCountActiveEmptyInput(t *testing.T) {
	store, _ := newMockStore(t)
	counts, err := store.CountActive(context.Background(), nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected empty map, got %v", counts)
	}
}

func TestCountActiveGroupsBySchedule(t *testing.T) {
	store, mock := newMockStore(t)
	s1, s2 := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT schedule_id, COUNT").
		WithArgs([]uuid.UUID{s1, s2}).
		WillReturnRows(pgxmock.NewRows([]string{"schedule_id", "count"}).
			AddRow(s1, 2).
			AddRow(s2, 1))

	counts, err := store.CountActive(context.Background(), []uuid.UUID{s1, s2})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[s1] != 2 || counts[s2] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestListStalePendingPayment(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().Add(-15 * time.Minute)
	stale := Appointment{
		ID: uuid.New(), PatientID: uuid.New(), DoctorID: uuid.New(), ScheduleID: uuid.New(),
		StartAt: time.Now(), EndAt: time.Now().Add(time.Hour), Status: StatusPendingPayment,
		CreatedAt: cutoff.Add(-time.Minute), UpdatedAt: cutoff.Add(-time.Minute),
	}

	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs(cutoff.UTC(), 100).
		WillReturnRows(appointmentRow(stale))

	out, err := store.ListStalePendingPayment(context.Background(), cutoff, 0)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(out) != 1 || out[0].ID != stale.ID {
		t.Errorf("unexpected stale list: %+v", out)
	}
}

func TestSetPaymentRefMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments SET payment_ref").
		WithArgs("pi_123", pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.SetPaymentRef(context.Background(), id, "pi_123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	if StatusCancelled.Active() {
		t.Error("cancelled must not occupy capacity")
	}
	for _, s := range []Status{StatusPending, StatusPendingPayment, StatusConfirmed, StatusCompleted} {
		if !s.Active() {
			t.Errorf("%s should occupy capacity", s)
		}
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Error("completed and cancelled are terminal")
	}
	if StatusConfirmed.Terminal() {
		t.Error("confirmed is not terminal")
	}
}
