package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustTime(t *testing.T, s string) TimeOfDay {
	t.Helper()
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tod
}

func TestResolveExpandsSchedules(t *testing.T) {
	doctorID := uuid.New()
	schedules := []Schedule{
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 1, 21), StartTime: mustTime(t, "14:00"), EndTime: mustTime(t, "16:00"), MaxPatients: 3},
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 1, 20), StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 2},
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 1, 20), StartTime: mustTime(t, "11:00"), EndTime: mustTime(t, "12:00"), MaxPatients: 2},
		{ID: uuid.New(), DoctorID: uuid.New(), Date: date(2025, 1, 20), StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 2},
	}

	windows := Resolve(schedules, nil, doctorID, date(2025, 1, 20), date(2025, 1, 21))

	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	// Ordered by date then start time.
	if windows[0].StartTime.String() != "09:00" || windows[1].StartTime.String() != "11:00" {
		t.Errorf("windows out of order: %v %v", windows[0].StartTime, windows[1].StartTime)
	}
	if !windows[2].Date.Equal(date(2025, 1, 21)) {
		t.Errorf("expected third window on Jan 21, got %s", windows[2].Date)
	}
	for _, w := range windows {
		if w.DoctorID != doctorID {
			t.Errorf("window for wrong doctor: %s", w.DoctorID)
		}
	}
}

func TestResolveUnavailableExceptionSuppressesDay(t *testing.T) {
	doctorID := uuid.New()
	schedules := []Schedule{
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 1, 20), StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 2},
	}
	exceptions := []ScheduleException{
		{ID: uuid.New(), Type: ExceptionUnavailable, StartDate: date(2025, 1, 20), EndDate: date(2025, 1, 20), Reason: ReasonHoliday},
	}

	windows := Resolve(schedules, exceptions, doctorID, date(2025, 1, 20), date(2025, 1, 20))

	if len(windows) != 0 {
		t.Fatalf("expected zero windows on holiday, got %d", len(windows))
	}
}

func TestResolvePartialUnavailableKeepsUncoveredWindows(t *testing.T) {
	doctorID := uuid.New()
	schedules := []Schedule{
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 1, 20), StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 2},
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 1, 20), StartTime: mustTime(t, "14:00"), EndTime: mustTime(t, "15:00"), MaxPatients: 2},
	}
	blockStart, blockEnd := mustTime(t, "08:00"), mustTime(t, "12:00")
	exceptions := []ScheduleException{
		{ID: uuid.New(), Type: ExceptionUnavailable, StartDate: date(2025, 1, 20), EndDate: date(2025, 1, 20), StartTime: &blockStart, EndTime: &blockEnd, Reason: ReasonLeave},
	}

	windows := Resolve(schedules, exceptions, doctorID, date(2025, 1, 20), date(2025, 1, 20))

	if len(windows) != 1 {
		t.Fatalf("expected 1 surviving window, got %d", len(windows))
	}
	if windows[0].StartTime.String() != "14:00" {
		t.Errorf("wrong window survived: %s", windows[0].StartTime)
	}
}

func TestResolveAvailableExceptionCarriesNoWindow(t *testing.T) {
	doctorID := uuid.New()
	start, end := mustTime(t, "18:00"), mustTime(t, "20:00")
	exceptions := []ScheduleException{
		{ID: uuid.New(), DoctorID: &doctorID, Type: ExceptionAvailable, StartDate: date(2025, 1, 25), EndDate: date(2025, 1, 25), StartTime: &start, EndTime: &end, Reason: ReasonExtraHours},
	}

	// Extra-hours capacity lives in the schedules materialized alongside the
	// override; the override row itself adds nothing.
	windows := Resolve(nil, exceptions, doctorID, date(2025, 1, 25), date(2025, 1, 25))

	if len(windows) != 0 {
		t.Fatalf("expected no windows from the override alone, got %d", len(windows))
	}
}

func TestResolveDoctorSpecificOverridesAllDoctors(t *testing.T) {
	doctorID := uuid.New()
	schedules := []Schedule{
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 2, 3), StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 2},
		{ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 2, 3), StartTime: mustTime(t, "10:00"), EndTime: mustTime(t, "12:00"), MaxPatients: 1},
	}
	// Platform-wide holiday, but this doctor works extra hours on the same
	// date: the doctor-specific exception replaces the global one entirely,
	// so both of the doctor's windows survive.
	start, end := mustTime(t, "10:00"), mustTime(t, "12:00")
	exceptions := []ScheduleException{
		{ID: uuid.New(), Type: ExceptionUnavailable, StartDate: date(2025, 2, 3), EndDate: date(2025, 2, 3), Reason: ReasonHoliday},
		{ID: uuid.New(), DoctorID: &doctorID, Type: ExceptionAvailable, StartDate: date(2025, 2, 3), EndDate: date(2025, 2, 3), StartTime: &start, EndTime: &end, Reason: ReasonExtraHours},
	}

	windows := Resolve(schedules, exceptions, doctorID, date(2025, 2, 3), date(2025, 2, 3))

	if len(windows) != 2 {
		t.Fatalf("expected both windows to survive the lifted holiday, got %d", len(windows))
	}
}

func TestResolveAllDoctorsExceptionAppliesWithoutSpecific(t *testing.T) {
	doctorA, doctorB := uuid.New(), uuid.New()
	schedules := []Schedule{
		{ID: uuid.New(), DoctorID: doctorA, Date: date(2025, 2, 3), StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 2},
		{ID: uuid.New(), DoctorID: doctorB, Date: date(2025, 2, 3), StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 2},
	}
	exceptions := []ScheduleException{
		{ID: uuid.New(), Type: ExceptionUnavailable, StartDate: date(2025, 2, 3), EndDate: date(2025, 2, 3), Reason: ReasonHoliday},
	}

	if got := Resolve(schedules, exceptions, doctorA, date(2025, 2, 3), date(2025, 2, 3)); len(got) != 0 {
		t.Errorf("doctor A should be suppressed by platform holiday, got %d windows", len(got))
	}
	if got := Resolve(schedules, exceptions, doctorB, date(2025, 2, 3), date(2025, 2, 3)); len(got) != 0 {
		t.Errorf("doctor B should be suppressed by platform holiday, got %d windows", len(got))
	}
}

func TestResolveExceptionDateRange(t *testing.T) {
	doctorID := uuid.New()
	var schedules []Schedule
	for d := 0; d < 5; d++ {
		schedules = append(schedules, Schedule{
			ID: uuid.New(), DoctorID: doctorID, Date: date(2025, 3, 10+d),
			StartTime: mustTime(t, "09:00"), EndTime: mustTime(t, "10:00"), MaxPatients: 1,
		})
	}
	exceptions := []ScheduleException{
		{ID: uuid.New(), DoctorID: &doctorID, Type: ExceptionUnavailable, StartDate: date(2025, 3, 11), EndDate: date(2025, 3, 13), Reason: ReasonLeave},
	}

	windows := Resolve(schedules, exceptions, doctorID, date(2025, 3, 10), date(2025, 3, 14))

	if len(windows) != 2 {
		t.Fatalf("expected 2 windows outside leave range, got %d", len(windows))
	}
	if !windows[0].Date.Equal(date(2025, 3, 10)) || !windows[1].Date.Equal(date(2025, 3, 14)) {
		t.Errorf("wrong dates survived: %s %s", windows[0].Date, windows[1].Date)
	}
}

func TestTimeOfDayParseAndFormat(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tod.String() != "09:30" {
		t.Errorf("round trip failed: %s", tod)
	}
	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Error("expected error for hour out of range")
	}
	if _, err := ParseTimeOfDay("bogus"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestCapacityWindowIsClosed(t *testing.T) {
	w := CapacityWindow{
		Date:      date(2025, 1, 20),
		StartTime: mustTime(t, "09:00"),
		EndTime:   mustTime(t, "10:00"),
	}
	before := time.Date(2025, 1, 20, 9, 30, 0, 0, time.UTC)
	after := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	if w.IsClosed(before, time.UTC) {
		t.Error("window should be open at 09:30")
	}
	if !w.IsClosed(after, time.UTC) {
		t.Error("window should be closed at its end time")
	}
}
