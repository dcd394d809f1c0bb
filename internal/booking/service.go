package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SujitBista/medbook-sub005/internal/appointment"
	"github.com/SujitBista/medbook-sub005/internal/commission"
	"github.com/SujitBista/medbook-sub005/internal/notify"
	"github.com/SujitBista/medbook-sub005/internal/observability/metrics"
	"github.com/SujitBista/medbook-sub005/internal/payments"
	"github.com/SujitBista/medbook-sub005/internal/schedule"
	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

// ScheduleStore is the schedule persistence the orchestrator consumes.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (*schedule.Schedule, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Schedule, error)
	ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.ScheduleException, error)
}

// AppointmentStore is the appointment persistence the orchestrator consumes.
type AppointmentStore interface {
	Reserve(ctx context.Context, p appointment.ReserveParams) (*appointment.Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, from, to appointment.Status) (bool, error)
	SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error
	CountActive(ctx context.Context, scheduleIDs []uuid.UUID) (map[uuid.UUID]int, error)
	ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]appointment.Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]appointment.Appointment, error)
}

// CommissionStore records platform/doctor splits for paid bookings.
type CommissionStore interface {
	RateForDoctor(ctx context.Context, doctorID uuid.UUID) (float64, error)
	CreateSnapshot(ctx context.Context, appointmentID, doctorID uuid.UUID, split commission.Split) error
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error
	Reassign(ctx context.Context, fromAppointmentID, toAppointmentID uuid.UUID) error
}

// Notifier delivers fire-and-forget booking emails.
type Notifier interface {
	BookingConfirmed(ctx context.Context, d notify.BookingDetails)
	BookingCancelled(ctx context.Context, d notify.BookingDetails)
	BookingRescheduled(ctx context.Context, d notify.BookingDetails)
}

// AttemptAllower caps booking attempts per patient.
type AttemptAllower interface {
	Allow(ctx context.Context, patientID uuid.UUID) (bool, error)
}

// Config tunes the orchestrator.
type Config struct {
	// ReservationTTL bounds how long a PENDING_PAYMENT hold may block a
	// capacity unit before the sweeper releases it.
	ReservationTTL time.Duration
	// PatientCancelMinBefore is the minimum notice a patient must give.
	PatientCancelMinBefore time.Duration
	Currency               string
	DefaultPriceCents      int64
	// Location anchors schedule wall-clock times to absolute instants.
	Location *time.Location
	// SweepBatchSize bounds one ExpireStale pass.
	SweepBatchSize int
}

// Service is the booking orchestrator. All concurrency safety comes from the
// stores' conditional writes; the service itself holds no state beyond
// configuration and collaborators, so independent request workers can share
// one instance.
type Service struct {
	schedules    ScheduleStore
	appointments AppointmentStore
	commissions  CommissionStore
	provider     payments.Provider
	notifier     Notifier
	limiter      AttemptAllower
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
	cfg          Config
	now          func() time.Time
}

// NewService creates the booking orchestrator.
func NewService(schedules ScheduleStore, appointments AppointmentStore, commissions CommissionStore,
	provider payments.Provider, cfg Config, logger *logging.Logger) *Service {
	if schedules == nil || appointments == nil || commissions == nil || provider == nil {
		panic("booking: schedules, appointments, commissions and provider are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 15 * time.Minute
	}
	if cfg.PatientCancelMinBefore <= 0 {
		cfg.PatientCancelMinBefore = 24 * time.Hour
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &Service{
		schedules:    schedules,
		appointments: appointments,
		commissions:  commissions,
		provider:     provider,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithNotifier attaches the email notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithLimiter attaches the booking-attempt rate limiter.
func (s *Service) WithLimiter(l AttemptAllower) *Service {
	s.limiter = l
	return s
}

// WithMetrics attaches Prometheus instrumentation.
func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// withClock overrides the time source for tests.
func (s *Service) withClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ResolveAvailability expands schedules and exceptions into capacity windows
// and attaches live confirmed counts. When the count read fails the windows
// are reported full rather than bookable: a read failure must never invite
// overbooking upstream.
func (s *Service) ResolveAvailability(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.CapacityWindow, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor id required", ErrValidation)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: date range end before start", ErrValidation)
	}

	schedules, err := s.schedules.ListForDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("resolve availability: %w", err)
	}
	exceptions, err := s.schedules.ListExceptions(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("resolve availability: %w", err)
	}

	windows := schedule.Resolve(schedules, exceptions, doctorID, from, to)

	ids := make([]uuid.UUID, 0, len(windows))
	for _, w := range windows {
		ids = append(ids, w.ScheduleID)
	}
	counts, err := s.appointments.CountActive(ctx, ids)
	if err != nil {
		s.logger.Error("availability count failed, reporting windows unavailable",
			"doctor_id", doctorID, "error", err)
		for i := range windows {
			windows[i].ConfirmedCount = windows[i].MaxPatients
			windows[i].Remaining = 0
		}
		return windows, nil
	}

	for i := range windows {
		w := &windows[i]
		w.ConfirmedCount = counts[w.ScheduleID]
		w.Remaining = w.MaxPatients - w.ConfirmedCount
		if w.Remaining < 0 {
			// Counts can momentarily exceed capacity only if the invariant
			// was violated out-of-band; clamp and shout.
			s.logger.Error("window over capacity", "schedule_id", w.ScheduleID,
				"confirmed", w.ConfirmedCount, "max", w.MaxPatients)
			w.Remaining = 0
		}
	}
	return windows, nil
}

// StartResult is returned from a successful booking start.
type StartResult struct {
	AppointmentID uuid.UUID
	ClientSecret  string
}

// StartBooking reserves one capacity unit and opens a payment intent. The
// store serializes reserves per schedule, so concurrent starts on the last
// unit resolve to one winner; the rest get ErrCapacityExceeded. The payment
// call happens only after the reservation is durable, and never under any
// lock.
func (s *Service) StartBooking(ctx context.Context, scheduleID, patientID uuid.UUID) (*StartResult, error) {
	if scheduleID == uuid.Nil || patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: schedule and patient ids required", ErrValidation)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, patientID)
		if err != nil {
			// Fail open: rate limiting must not take bookings down.
			s.logger.Warn("attempt limiter unavailable", "error", err)
		} else if !allowed {
			s.metrics.ObserveBookingStarted("rate_limited")
			return nil, fmt.Errorf("%w: patient %s", ErrRateLimited, patientID)
		}
	}

	sc, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, scheduleID)
		}
		return nil, fmt.Errorf("start booking: %w", err)
	}

	startAt := sc.StartTime.On(sc.Date, s.cfg.Location)
	endAt := sc.EndTime.On(sc.Date, s.cfg.Location)
	if !endAt.After(s.now()) {
		return nil, fmt.Errorf("%w: window already closed", ErrValidation)
	}

	amount := sc.PriceCents
	if amount <= 0 {
		amount = s.cfg.DefaultPriceCents
	}

	appt, err := s.appointments.Reserve(ctx, appointment.ReserveParams{
		ScheduleID:  scheduleID,
		PatientID:   patientID,
		StartAt:     startAt,
		EndAt:       endAt,
		Status:      appointment.StatusPendingPayment,
		AmountCents: amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, appointment.ErrCapacityExceeded):
			s.metrics.ObserveBookingStarted("capacity_exceeded")
			s.metrics.ObserveCapacityConflict()
			return nil, fmt.Errorf("%w: schedule %s", ErrCapacityExceeded, scheduleID)
		case errors.Is(err, appointment.ErrScheduleNotFound):
			return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, scheduleID)
		default:
			return nil, fmt.Errorf("start booking: %w", err)
		}
	}

	intent, err := s.provider.CreateIntent(ctx, amount, s.cfg.Currency, map[string]string{
		"appointment_id": appt.ID.String(),
		"patient_id":     patientID.String(),
		"schedule_id":    scheduleID.String(),
	})
	if err != nil {
		// Release the unit so a provider outage cannot strand capacity
		// until the sweeper runs.
		s.release(ctx, appt.ID)
		s.metrics.ObserveBookingStarted("payment_error")
		return nil, fmt.Errorf("start booking: create intent: %w", err)
	}

	if err := s.appointments.SetPaymentRef(ctx, appt.ID, intent.ID); err != nil {
		s.release(ctx, appt.ID)
		return nil, fmt.Errorf("start booking: link intent: %w", err)
	}

	s.metrics.ObserveBookingStarted("reserved")
	s.logger.Info("booking started",
		"appointment_id", appt.ID, "schedule_id", scheduleID, "patient_id", patientID,
		"amount_cents", amount)
	return &StartResult{AppointmentID: appt.ID, ClientSecret: intent.ClientSecret}, nil
}

// ConfirmBooking verifies payment server-side and finalizes the reservation.
// Confirming an already-CONFIRMED appointment is a no-op success, which makes
// the webhook/client-confirm race harmless.
func (s *Service) ConfirmBooking(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, appointmentID)
		}
		return nil, fmt.Errorf("confirm booking: %w", err)
	}

	switch appt.Status {
	case appointment.StatusConfirmed:
		// A crash between the transition and the snapshot must not lose the
		// commission: the snapshot insert is idempotent, so re-record it.
		s.recordCommission(ctx, appt)
		return appt, nil
	case appointment.StatusPendingPayment:
		// proceed
	default:
		return nil, fmt.Errorf("%w: appointment %s is %s", ErrConflict, appointmentID, appt.Status)
	}

	if appt.PaymentRef == "" {
		return nil, fmt.Errorf("%w: appointment %s has no payment intent", ErrPaymentVerification, appointmentID)
	}

	paid, err := s.provider.VerifyIntent(ctx, appt.PaymentRef)
	if err != nil {
		// Transient provider failure: the appointment stays PENDING_PAYMENT
		// and either a retry or the sweeper resolves it.
		s.metrics.ObserveConfirmation("verify_error")
		return nil, fmt.Errorf("%w: %v", ErrPaymentVerification, err)
	}
	if !paid {
		// Definitive not-paid: release the unit.
		if _, err := s.appointments.Transition(ctx, appointmentID,
			appointment.StatusPendingPayment, appointment.StatusCancelled); err != nil {
			return nil, fmt.Errorf("confirm booking: release unpaid: %w", err)
		}
		s.metrics.ObserveConfirmation("not_paid")
		return nil, fmt.Errorf("%w: intent %s not captured", ErrPaymentVerification, appt.PaymentRef)
	}

	updated, err := s.appointments.Transition(ctx, appointmentID,
		appointment.StatusPendingPayment, appointment.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("confirm booking: %w", err)
	}
	if !updated {
		// Lost a race with expire or another confirm. Re-read and decide.
		current, err := s.appointments.GetByID(ctx, appointmentID)
		if err != nil {
			return nil, fmt.Errorf("confirm booking: reread: %w", err)
		}
		if current.Status == appointment.StatusConfirmed {
			s.recordCommission(ctx, current)
			return current, nil
		}
		s.metrics.ObserveConfirmation("conflict")
		return nil, fmt.Errorf("%w: appointment %s is %s", ErrConflict, appointmentID, current.Status)
	}

	s.recordCommission(ctx, appt)

	appt.Status = appointment.StatusConfirmed
	s.metrics.ObserveConfirmation("confirmed")
	s.logger.Info("booking confirmed", "appointment_id", appointmentID)

	if s.notifier != nil {
		s.notifier.BookingConfirmed(ctx, notify.BookingDetails{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			StartAt:       appt.StartAt,
			EndAt:         appt.EndAt,
		})
	}
	return appt, nil
}

// ExpireStale cancels payment-pending reservations older than the TTL. The
// transition guard makes it safe against concurrent confirms and against
// overlapping sweeps: whichever transition lands first wins, the other sees
// zero rows and moves on.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	started := s.now()
	cutoff := started.Add(-s.cfg.ReservationTTL)

	stale, err := s.appointments.ListStalePendingPayment(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("expire stale: %w", err)
	}

	expired := 0
	for _, appt := range stale {
		updated, err := s.appointments.Transition(ctx, appt.ID,
			appointment.StatusPendingPayment, appointment.StatusCancelled)
		if err != nil {
			s.logger.Error("expire stale: transition failed",
				"appointment_id", appt.ID, "error", err)
			continue
		}
		if !updated {
			// Confirmed (or already expired) since we listed it.
			continue
		}
		expired++
		s.logger.Info("expired stale reservation",
			"appointment_id", appt.ID, "created_at", appt.CreatedAt)
	}

	s.metrics.ObserveExpiredHolds(expired)
	s.metrics.ObserveSweepDuration(s.now().Sub(started).Seconds())
	return expired, nil
}

// GetAppointment loads an appointment for the HTTP layer.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
		}
		return nil, err
	}
	return appt, nil
}

// ListPatientBookings returns a patient's bookings, newest first.
func (s *Service) ListPatientBookings(ctx context.Context, patientID uuid.UUID, limit int) ([]appointment.Appointment, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient id required", ErrValidation)
	}
	return s.appointments.ListForPatient(ctx, patientID, limit)
}

// release cancels a freshly reserved appointment after a failure later in the
// start flow. Best effort: a failure here leaves the hold for the sweeper.
func (s *Service) release(ctx context.Context, appointmentID uuid.UUID) {
	if _, err := s.appointments.Transition(ctx, appointmentID,
		appointment.StatusPendingPayment, appointment.StatusCancelled); err != nil {
		s.logger.Error("failed to release reservation, sweeper will collect it",
			"appointment_id", appointmentID, "error", err)
	}
}

// recordCommission snapshots the platform/doctor split at confirmation time.
// The rate is read once here and never again for this appointment.
func (s *Service) recordCommission(ctx context.Context, appt *appointment.Appointment) {
	rate, err := s.commissions.RateForDoctor(ctx, appt.DoctorID)
	if err != nil {
		s.logger.Error("commission rate lookup failed",
			"appointment_id", appt.ID, "doctor_id", appt.DoctorID, "error", err)
		return
	}
	split, err := commission.Calculate(appt.AmountCents, rate)
	if err != nil {
		s.logger.Error("commission calculation failed",
			"appointment_id", appt.ID, "error", err)
		return
	}
	if err := s.commissions.CreateSnapshot(ctx, appt.ID, appt.DoctorID, split); err != nil {
		s.logger.Error("commission snapshot failed",
			"appointment_id", appt.ID, "error", err)
	}
}
