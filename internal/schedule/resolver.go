package schedule

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Defaults fills in what an AVAILABLE override leaves unspecified when its ad
// hoc schedules are materialized: clinic hours, capacity and price.
type Defaults struct {
	MaxPatients int
	DayStart    TimeOfDay
	DayEnd      TimeOfDay
	PriceCents  int64
}

// Resolve expands a doctor's schedules and exceptions into concrete capacity
// windows over [from, to], inclusive of both endpoints. It is a pure function
// of its inputs: no caching, no clock reads, so callers always see fresh
// availability.
//
// Precedence per date: a doctor-specific exception replaces any all-doctors
// exception outright. UNAVAILABLE exceptions suppress schedule windows they
// fully cover. AVAILABLE exceptions carry no windows of their own here; the
// schedules they materialized at creation time flow through the normal path.
func Resolve(schedules []Schedule, exceptions []ScheduleException, doctorID uuid.UUID, from, to time.Time) []CapacityWindow {
	byDate := make(map[time.Time][]Schedule)
	for _, s := range schedules {
		if s.DoctorID != doctorID {
			continue
		}
		d := dateOnly(s.Date)
		byDate[d] = append(byDate[d], s)
	}

	var windows []CapacityWindow
	for d := dateOnly(from); !d.After(dateOnly(to)); d = d.AddDate(0, 0, 1) {
		active := exceptionsForDate(exceptions, doctorID, d)

		for _, s := range byDate[d] {
			if suppressed(s, active) {
				continue
			}
			windows = append(windows, CapacityWindow{
				ScheduleID:  s.ID,
				DoctorID:    s.DoctorID,
				Date:        d,
				StartTime:   s.StartTime,
				EndTime:     s.EndTime,
				MaxPatients: s.MaxPatients,
				PriceCents:  s.PriceCents,
			})
		}
	}

	sort.SliceStable(windows, func(i, j int) bool {
		if !windows[i].Date.Equal(windows[j].Date) {
			return windows[i].Date.Before(windows[j].Date)
		}
		return windows[i].StartTime < windows[j].StartTime
	})
	return windows
}

// exceptionsForDate selects the exceptions in effect for one doctor on one
// date. When any doctor-specific exception applies, all-doctors exceptions
// are dropped for that date.
func exceptionsForDate(exceptions []ScheduleException, doctorID uuid.UUID, date time.Time) []ScheduleException {
	var specific, global []ScheduleException
	for _, e := range exceptions {
		if !e.appliesTo(doctorID, date) {
			continue
		}
		if e.DoctorID != nil {
			specific = append(specific, e)
		} else {
			global = append(global, e)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return global
}

func suppressed(s Schedule, active []ScheduleException) bool {
	for _, e := range active {
		if e.Type == ExceptionUnavailable && e.coversWindow(s.StartTime, s.EndTime) {
			return true
		}
	}
	return false
}
