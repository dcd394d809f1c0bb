package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

// Contact is a patient's notification address.
type Contact struct {
	Email string
	Name  string
}

// PatientDirectory resolves patient contact details. Patient records live
// outside the booking core; only the lookup is needed here.
type PatientDirectory interface {
	GetContact(ctx context.Context, patientID uuid.UUID) (*Contact, error)
}

// Service sends booking lifecycle emails. Every method is fire-and-forget:
// failures are logged and never propagate into booking state.
type Service struct {
	email    EmailSender
	patients PatientDirectory
	logger   *logging.Logger
}

// NewService creates a notification service. Both collaborators are optional;
// a nil sender or directory disables delivery.
func NewService(email EmailSender, patients PatientDirectory, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, patients: patients, logger: logger}
}

// BookingDetails carries what the emails need from an appointment.
type BookingDetails struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	StartAt       time.Time
	EndAt         time.Time
}

// BookingConfirmed notifies the patient that payment was captured.
func (s *Service) BookingConfirmed(ctx context.Context, d BookingDetails) {
	s.send(ctx, d, "Your appointment is confirmed",
		func(name string) string {
			return fmt.Sprintf("Hi %s,\n\nYour appointment on %s is confirmed. See you then!\n",
				name, d.StartAt.Format("Monday, Jan 2 2006 at 15:04"))
		})
}

// BookingCancelled notifies the patient of a cancellation.
func (s *Service) BookingCancelled(ctx context.Context, d BookingDetails) {
	s.send(ctx, d, "Your appointment was cancelled",
		func(name string) string {
			return fmt.Sprintf("Hi %s,\n\nYour appointment on %s has been cancelled. If you paid, a refund is on its way.\n",
				name, d.StartAt.Format("Monday, Jan 2 2006 at 15:04"))
		})
}

// BookingRescheduled notifies the patient of a moved appointment.
func (s *Service) BookingRescheduled(ctx context.Context, d BookingDetails) {
	s.send(ctx, d, "Your appointment was rescheduled",
		func(name string) string {
			return fmt.Sprintf("Hi %s,\n\nYour appointment has been moved to %s.\n",
				name, d.StartAt.Format("Monday, Jan 2 2006 at 15:04"))
		})
}

func (s *Service) send(ctx context.Context, d BookingDetails, subject string, body func(name string) string) {
	if s == nil || s.email == nil || s.patients == nil {
		return
	}
	contact, err := s.patients.GetContact(ctx, d.PatientID)
	if err != nil || contact == nil || contact.Email == "" {
		s.logger.Warn("notify: no contact for patient",
			"patient_id", d.PatientID, "error", err)
		return
	}
	msg := EmailMessage{
		To:      contact.Email,
		ToName:  contact.Name,
		Subject: subject,
		Body:    body(contact.Name),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: email send failed",
			"appointment_id", d.AppointmentID, "error", err)
	}
}
