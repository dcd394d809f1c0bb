package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/SujitBista/medbook-sub005/internal/appointment"
	"github.com/SujitBista/medbook-sub005/internal/notify"
	"github.com/SujitBista/medbook-sub005/internal/schedule"
)

// Role identifies who is acting on a booking.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated party behind a cancel or reschedule request.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Cancel releases an appointment's capacity unit. Patients may only cancel
// their own bookings and only outside the minimum-notice window; doctors and
// admins are exempt from both checks. Cancelling an already-cancelled
// appointment is a no-op success so client retries are harmless.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, actor Actor) error {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return fmt.Errorf("%w: appointment %s", ErrNotFound, appointmentID)
		}
		return fmt.Errorf("cancel: %w", err)
	}

	if appt.Status == appointment.StatusCancelled {
		return nil
	}
	if appt.Status == appointment.StatusCompleted {
		return fmt.Errorf("%w: appointment %s already completed", ErrConflict, appointmentID)
	}

	if actor.Role == RolePatient {
		if actor.ID != appt.PatientID {
			return fmt.Errorf("%w: appointment %s", ErrForbidden, appointmentID)
		}
		if s.now().Add(s.cfg.PatientCancelMinBefore).After(appt.StartAt) {
			return fmt.Errorf("%w: less than %s before start", ErrCancellationWindow, s.cfg.PatientCancelMinBefore)
		}
	}

	wasConfirmed := appt.Status == appointment.StatusConfirmed

	updated, err := s.appointments.Transition(ctx, appointmentID, appt.Status, appointment.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if !updated {
		current, err := s.appointments.GetByID(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("cancel: reread: %w", err)
		}
		if current.Status == appointment.StatusCancelled {
			return nil
		}
		return fmt.Errorf("%w: appointment %s is %s", ErrConflict, appointmentID, current.Status)
	}

	// The capacity unit is free from this point. Refund and commission
	// cleanup are follow-up work: their failure must not resurrect the
	// booking, only leave an operator trail.
	if wasConfirmed && appt.PaymentRef != "" {
		if err := s.provider.Refund(ctx, appt.PaymentRef, appt.AmountCents); err != nil {
			s.metrics.ObserveRefundFailure()
			s.logger.Error("refund failed, needs manual follow-up",
				"appointment_id", appointmentID, "payment_ref", appt.PaymentRef, "error", err)
		}
	}
	if wasConfirmed {
		if err := s.commissions.CancelForAppointment(ctx, appointmentID); err != nil {
			s.logger.Error("commission cancel failed",
				"appointment_id", appointmentID, "error", err)
		}
	}

	s.metrics.ObserveCancellation(string(actor.Role))
	s.logger.Info("booking cancelled",
		"appointment_id", appointmentID, "actor_role", actor.Role, "refunded", wasConfirmed)

	if s.notifier != nil {
		s.notifier.BookingCancelled(ctx, notify.BookingDetails{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			StartAt:       appt.StartAt,
			EndAt:         appt.EndAt,
		})
	}
	return nil
}

// Reschedule moves a confirmed booking to a different schedule window without
// a second payment. The new unit is reserved first, then the old one is
// released; if the release fails the new reservation is compensated away, so
// the patient never ends up holding two units or zero units durably.
func (s *Service) Reschedule(ctx context.Context, appointmentID, newScheduleID uuid.UUID, actor Actor) (*appointment.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, appointmentID)
		}
		return nil, fmt.Errorf("reschedule: %w", err)
	}

	if actor.Role == RolePatient && actor.ID != appt.PatientID {
		return nil, fmt.Errorf("%w: appointment %s", ErrForbidden, appointmentID)
	}
	if appt.Status != appointment.StatusConfirmed {
		return nil, fmt.Errorf("%w: only confirmed bookings can move, appointment is %s", ErrConflict, appt.Status)
	}
	if appt.ScheduleID == newScheduleID {
		return nil, fmt.Errorf("%w: already booked on that window", ErrValidation)
	}
	if actor.Role == RolePatient && s.now().Add(s.cfg.PatientCancelMinBefore).After(appt.StartAt) {
		return nil, fmt.Errorf("%w: less than %s before start", ErrCancellationWindow, s.cfg.PatientCancelMinBefore)
	}

	sc, err := s.schedules.GetSchedule(ctx, newScheduleID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, newScheduleID)
		}
		return nil, fmt.Errorf("reschedule: %w", err)
	}
	startAt := sc.StartTime.On(sc.Date, s.cfg.Location)
	endAt := sc.EndTime.On(sc.Date, s.cfg.Location)
	if !endAt.After(s.now()) {
		return nil, fmt.Errorf("%w: target window already closed", ErrValidation)
	}

	// Reserve-then-release. The new row is born CONFIRMED carrying the
	// original payment, so capacity accounting on the target window is
	// correct from the first instant.
	replacement, err := s.appointments.Reserve(ctx, appointment.ReserveParams{
		ScheduleID:  newScheduleID,
		PatientID:   appt.PatientID,
		StartAt:     startAt,
		EndAt:       endAt,
		Status:      appointment.StatusConfirmed,
		PaymentRef:  appt.PaymentRef,
		AmountCents: appt.AmountCents,
		Notes:       fmt.Sprintf("rescheduled from %s", appt.ID),
	})
	if err != nil {
		switch {
		case errors.Is(err, appointment.ErrCapacityExceeded):
			s.metrics.ObserveCapacityConflict()
			return nil, fmt.Errorf("%w: schedule %s", ErrCapacityExceeded, newScheduleID)
		case errors.Is(err, appointment.ErrScheduleNotFound):
			return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, newScheduleID)
		default:
			return nil, fmt.Errorf("reschedule: reserve replacement: %w", err)
		}
	}

	released, err := s.appointments.Transition(ctx, appointmentID,
		appointment.StatusConfirmed, appointment.StatusCancelled)
	if err != nil || !released {
		// Old booking changed under us (or the release write failed).
		// Compensate: give back the replacement unit and report conflict.
		s.releaseConfirmed(ctx, replacement.ID)
		if err != nil {
			return nil, fmt.Errorf("reschedule: release original: %w", err)
		}
		return nil, fmt.Errorf("%w: appointment %s changed during reschedule", ErrConflict, appointmentID)
	}

	if err := s.commissions.Reassign(ctx, appointmentID, replacement.ID); err != nil {
		s.logger.Error("commission reassign failed",
			"from", appointmentID, "to", replacement.ID, "error", err)
	}

	s.logger.Info("booking rescheduled",
		"appointment_id", appointmentID, "replacement_id", replacement.ID,
		"schedule_id", newScheduleID)

	if s.notifier != nil {
		s.notifier.BookingRescheduled(ctx, notify.BookingDetails{
			AppointmentID: replacement.ID,
			PatientID:     replacement.PatientID,
			StartAt:       replacement.StartAt,
			EndAt:         replacement.EndAt,
		})
	}
	return replacement, nil
}

// releaseConfirmed compensates a confirmed replacement reservation after a
// failed reschedule. Best effort, logged on failure.
func (s *Service) releaseConfirmed(ctx context.Context, appointmentID uuid.UUID) {
	if _, err := s.appointments.Transition(ctx, appointmentID,
		appointment.StatusConfirmed, appointment.StatusCancelled); err != nil {
		s.logger.Error("failed to compensate replacement reservation",
			"appointment_id", appointmentID, "error", err)
	}
}
