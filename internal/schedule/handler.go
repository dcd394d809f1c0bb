package schedule

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

// Handler exposes schedule and exception management over HTTP. These routes
// are mounted behind admin auth.
type Handler struct {
	store    *Store
	logger   *logging.Logger
	defaults Defaults
}

// NewHandler creates the schedule management handler.
func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if store == nil {
		panic("schedule: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:    store,
		logger:   logger,
		defaults: Defaults{MaxPatients: 1, DayStart: 9 * 60, DayEnd: 17 * 60},
	}
}

// WithDefaults overrides the clinic-level fallbacks used when an AVAILABLE
// override omits times, capacity or price.
func (h *Handler) WithDefaults(d Defaults) *Handler {
	if d.MaxPatients >= 1 {
		h.defaults.MaxPatients = d.MaxPatients
	}
	if d.DayEnd > d.DayStart {
		h.defaults.DayStart, h.defaults.DayEnd = d.DayStart, d.DayEnd
	}
	h.defaults.PriceCents = d.PriceCents
	return h
}

// Routes mounts the schedule management endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/schedules", h.CreateSchedule)
	r.Get("/doctors/{doctorID}/schedules", h.ListSchedules)
	r.Delete("/schedules/{scheduleID}", h.DeleteSchedule)
	r.Post("/exceptions", h.CreateException)
	r.Get("/doctors/{doctorID}/exceptions", h.ListExceptions)
	r.Delete("/exceptions/{exceptionID}", h.DeleteException)
}

// CreateScheduleRequest defines one capacity window.
type CreateScheduleRequest struct {
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`       // YYYY-MM-DD
	StartTime   string `json:"start_time"` // HH:MM
	EndTime     string `json:"end_time"`   // HH:MM
	MaxPatients int    `json:"max_patients"`
	PriceCents  int64  `json:"price_cents"`
	CreatedBy   string `json:"created_by"`
}

// ScheduleResponse is the wire shape of a schedule.
type ScheduleResponse struct {
	ID          string `json:"id"`
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	MaxPatients int    `json:"max_patients"`
	PriceCents  int64  `json:"price_cents"`
	CreatedAt   string `json:"created_at"`
}

// CreateSchedule creates a capacity window.
// POST /admin/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		jsonError(w, "invalid doctor_id", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		jsonError(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	startTime, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		jsonError(w, "invalid start_time, want HH:MM", http.StatusBadRequest)
		return
	}
	endTime, err := ParseTimeOfDay(req.EndTime)
	if err != nil {
		jsonError(w, "invalid end_time, want HH:MM", http.StatusBadRequest)
		return
	}
	if endTime <= startTime {
		jsonError(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}
	if req.MaxPatients < 1 {
		jsonError(w, "max_patients must be at least 1", http.StatusBadRequest)
		return
	}
	createdBy, _ := uuid.Parse(req.CreatedBy)

	sc := &Schedule{
		DoctorID:    doctorID,
		Date:        date,
		StartTime:   startTime,
		EndTime:     endTime,
		MaxPatients: req.MaxPatients,
		PriceCents:  req.PriceCents,
		CreatedBy:   createdBy,
	}
	if err := h.store.CreateSchedule(r.Context(), sc); err != nil {
		h.logger.Error("create schedule failed", "doctor_id", doctorID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleResponse(sc))
}

// ListSchedules returns a doctor's windows over a date range.
// GET /admin/doctors/{doctorID}/schedules?from=...&to=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		jsonError(w, "invalid doctor id", http.StatusBadRequest)
		return
	}
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	schedules, err := h.store.ListForDoctor(r.Context(), doctorID, from, to)
	if err != nil {
		h.logger.Error("list schedules failed", "doctor_id", doctorID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]ScheduleResponse, 0, len(schedules))
	for i := range schedules {
		out = append(out, toScheduleResponse(&schedules[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

// DeleteSchedule removes an empty capacity window.
// DELETE /admin/schedules/{scheduleID}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "scheduleID"))
	if err != nil {
		jsonError(w, "invalid schedule id", http.StatusBadRequest)
		return
	}
	switch err := h.store.DeleteSchedule(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		jsonError(w, "schedule not found", http.StatusNotFound)
	case errors.Is(err, ErrInUse):
		jsonError(w, "schedule has active appointments", http.StatusConflict)
	default:
		h.logger.Error("delete schedule failed", "schedule_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// CreateExceptionRequest defines an availability override.
type CreateExceptionRequest struct {
	DoctorID    *string `json:"doctor_id,omitempty"` // omitted = all doctors
	Type        string  `json:"type"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	StartTime   *string `json:"start_time,omitempty"` // omitted = full day
	EndTime     *string `json:"end_time,omitempty"`
	Reason      string  `json:"reason"`
	Label       string  `json:"label"`
	MaxPatients *int    `json:"max_patients,omitempty"`
}

// ExceptionResponse is the wire shape of an exception.
type ExceptionResponse struct {
	ID          string  `json:"id"`
	DoctorID    *string `json:"doctor_id,omitempty"`
	Type        string  `json:"type"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	Reason      string  `json:"reason"`
	Label       string  `json:"label"`
	MaxPatients *int    `json:"max_patients,omitempty"`
}

// CreateException creates an availability override.
// POST /admin/exceptions
func (h *Handler) CreateException(w http.ResponseWriter, r *http.Request) {
	var req CreateExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	e := &ScheduleException{
		Type:        ExceptionType(req.Type),
		Reason:      ExceptionReason(req.Reason),
		Label:       req.Label,
		MaxPatients: req.MaxPatients,
	}
	if req.DoctorID != nil {
		id, err := uuid.Parse(*req.DoctorID)
		if err != nil {
			jsonError(w, "invalid doctor_id", http.StatusBadRequest)
			return
		}
		e.DoctorID = &id
	}
	var err error
	if e.StartDate, err = time.Parse("2006-01-02", req.StartDate); err != nil {
		jsonError(w, "invalid start_date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if e.EndDate, err = time.Parse("2006-01-02", req.EndDate); err != nil {
		jsonError(w, "invalid end_date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if e.EndDate.Before(e.StartDate) {
		jsonError(w, "end_date before start_date", http.StatusBadRequest)
		return
	}
	// Partial-day overrides need both bounds.
	if (req.StartTime == nil) != (req.EndTime == nil) {
		jsonError(w, "start_time and end_time must be given together", http.StatusBadRequest)
		return
	}
	if req.StartTime != nil {
		start, err := ParseTimeOfDay(*req.StartTime)
		if err != nil {
			jsonError(w, "invalid start_time, want HH:MM", http.StatusBadRequest)
			return
		}
		end, err := ParseTimeOfDay(*req.EndTime)
		if err != nil {
			jsonError(w, "invalid end_time, want HH:MM", http.StatusBadRequest)
			return
		}
		if end <= start {
			jsonError(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}
		e.StartTime, e.EndTime = &start, &end
	}
	switch e.Type {
	case ExceptionAvailable, ExceptionUnavailable:
	default:
		jsonError(w, "type must be AVAILABLE or UNAVAILABLE", http.StatusBadRequest)
		return
	}

	// AVAILABLE overrides announce bookable capacity, so they are stored
	// together with the ad hoc schedules patients will reserve against.
	if e.Type == ExceptionAvailable {
		if e.DoctorID == nil {
			jsonError(w, "AVAILABLE override requires doctor_id", http.StatusBadRequest)
			return
		}
		tmpl := Schedule{
			DoctorID:    *e.DoctorID,
			StartTime:   h.defaults.DayStart,
			EndTime:     h.defaults.DayEnd,
			MaxPatients: h.defaults.MaxPatients,
			PriceCents:  h.defaults.PriceCents,
		}
		if e.StartTime != nil && e.EndTime != nil {
			tmpl.StartTime, tmpl.EndTime = *e.StartTime, *e.EndTime
		}
		if e.MaxPatients != nil && *e.MaxPatients >= 1 {
			tmpl.MaxPatients = *e.MaxPatients
		}
		if err := h.store.CreateAvailabilityBlock(r.Context(), e, tmpl); err != nil {
			h.logger.Error("create availability block failed", "error", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, toExceptionResponse(e))
		return
	}

	if err := h.store.CreateException(r.Context(), e); err != nil {
		h.logger.Error("create exception failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toExceptionResponse(e))
}

// ListExceptions returns overrides affecting a doctor over a date range,
// all-doctors rows included.
// GET /admin/doctors/{doctorID}/exceptions?from=...&to=...
func (h *Handler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		jsonError(w, "invalid doctor id", http.StatusBadRequest)
		return
	}
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	exceptions, err := h.store.ListExceptions(r.Context(), doctorID, from, to)
	if err != nil {
		h.logger.Error("list exceptions failed", "doctor_id", doctorID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]ExceptionResponse, 0, len(exceptions))
	for i := range exceptions {
		out = append(out, toExceptionResponse(&exceptions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"exceptions": out})
}

// DeleteException removes an availability override.
// DELETE /admin/exceptions/{exceptionID}
func (h *Handler) DeleteException(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "exceptionID"))
	if err != nil {
		jsonError(w, "invalid exception id", http.StatusBadRequest)
		return
	}
	switch err := h.store.DeleteException(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		jsonError(w, "exception not found", http.StatusNotFound)
	default:
		h.logger.Error("delete exception failed", "exception_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func toScheduleResponse(sc *Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:          sc.ID.String(),
		DoctorID:    sc.DoctorID.String(),
		Date:        sc.Date.Format("2006-01-02"),
		StartTime:   sc.StartTime.String(),
		EndTime:     sc.EndTime.String(),
		MaxPatients: sc.MaxPatients,
		PriceCents:  sc.PriceCents,
		CreatedAt:   sc.CreatedAt.Format(time.RFC3339),
	}
}

func toExceptionResponse(e *ScheduleException) ExceptionResponse {
	out := ExceptionResponse{
		ID:          e.ID.String(),
		Type:        string(e.Type),
		StartDate:   e.StartDate.Format("2006-01-02"),
		EndDate:     e.EndDate.Format("2006-01-02"),
		Reason:      string(e.Reason),
		Label:       e.Label,
		MaxPatients: e.MaxPatients,
	}
	if e.DoctorID != nil {
		id := e.DoctorID.String()
		out.DoctorID = &id
	}
	if e.StartTime != nil {
		v := e.StartTime.String()
		out.StartTime = &v
	}
	if e.EndTime != nil {
		v := e.EndTime.String()
		out.EndTime = &v
	}
	return out
}

func parseDateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		jsonError(w, "invalid from date, want YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		jsonError(w, "invalid to date, want YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		jsonError(w, "to date before from date", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
