package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusConfirmed      Status = "CONFIRMED"
	StatusCancelled      Status = "CANCELLED"
	StatusCompleted      Status = "COMPLETED"
)

// Active reports whether the status occupies a capacity unit. Capacity
// accounting excludes only CANCELLED rows, so pending reservations block
// other bookers the moment they are created.
func (s Status) Active() bool {
	return s != StatusCancelled
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Appointment is one patient's claim on a capacity unit of a schedule window.
type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	ScheduleID  uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	Status      Status
	PaymentRef  string
	AmountCents int64
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
