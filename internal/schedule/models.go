package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a clinic-local wall-clock time, stored as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("schedule: invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("schedule: time of day %q out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// String renders the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On anchors the wall-clock time to a calendar date in the given location.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), int(t)/60, int(t)%60, 0, 0, loc)
}

// Schedule is a doctor-defined capacity window template for a single date.
type Schedule struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time // calendar date, normalized to midnight UTC
	StartTime   TimeOfDay
	EndTime     TimeOfDay
	MaxPatients int
	PriceCents  int64
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
}

// ExceptionType distinguishes overrides that add capacity from ones that remove it.
type ExceptionType string

const (
	ExceptionAvailable   ExceptionType = "AVAILABLE"
	ExceptionUnavailable ExceptionType = "UNAVAILABLE"
)

// ExceptionReason records why the override exists.
type ExceptionReason string

const (
	ReasonHoliday    ExceptionReason = "HOLIDAY"
	ReasonLeave      ExceptionReason = "LEAVE"
	ReasonExtraHours ExceptionReason = "EXTRA_HOURS"
)

// ScheduleException is a one-off availability override over a date range.
// A nil DoctorID scopes the exception to all doctors. Nil StartTime/EndTime
// means the override covers the whole day.
type ScheduleException struct {
	ID          uuid.UUID
	DoctorID    *uuid.UUID
	Type        ExceptionType
	StartDate   time.Time
	EndDate     time.Time
	StartTime   *TimeOfDay
	EndTime     *TimeOfDay
	Reason      ExceptionReason
	Label       string
	MaxPatients *int
	CreatedAt   time.Time
}

// appliesTo reports whether the exception covers the given date for the doctor.
func (e ScheduleException) appliesTo(doctorID uuid.UUID, date time.Time) bool {
	if e.DoctorID != nil && *e.DoctorID != doctorID {
		return false
	}
	d := dateOnly(date)
	return !d.Before(dateOnly(e.StartDate)) && !d.After(dateOnly(e.EndDate))
}

// coversWindow reports whether the exception's time-of-day range fully covers
// [start, end). A full-day exception covers everything.
func (e ScheduleException) coversWindow(start, end TimeOfDay) bool {
	if e.StartTime == nil || e.EndTime == nil {
		return true
	}
	return *e.StartTime <= start && end <= *e.EndTime
}

// CapacityWindow is a bookable window derived from schedules and exceptions.
// ConfirmedCount and Remaining are zero until live counts are attached.
type CapacityWindow struct {
	ScheduleID     uuid.UUID
	DoctorID       uuid.UUID
	Date           time.Time
	StartTime      TimeOfDay
	EndTime        TimeOfDay
	MaxPatients    int
	PriceCents     int64
	ConfirmedCount int
	Remaining      int
}

// IsFull reports whether the window has no remaining capacity.
func (w CapacityWindow) IsFull() bool {
	return w.Remaining <= 0
}

// IsClosed reports whether the window's end has passed.
func (w CapacityWindow) IsClosed(now time.Time, loc *time.Location) bool {
	return !w.EndTime.On(w.Date, loc).After(now)
}

// StartAt returns the window start as an absolute instant.
func (w CapacityWindow) StartAt(loc *time.Location) time.Time {
	return w.StartTime.On(w.Date, loc)
}

// EndAt returns the window end as an absolute instant.
func (w CapacityWindow) EndAt(loc *time.Location) time.Time {
	return w.EndTime.On(w.Date, loc)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
