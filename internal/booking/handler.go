package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SujitBista/medbook-sub005/internal/appointment"
	"github.com/SujitBista/medbook-sub005/internal/notify"
	"github.com/SujitBista/medbook-sub005/internal/schedule"
	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

// ContactDirectory records patient contact details supplied at booking time so
// lifecycle emails can reach them.
type ContactDirectory interface {
	UpsertContact(ctx context.Context, patientID uuid.UUID, c notify.Contact) error
}

// Handler exposes the booking engine over HTTP.
type Handler struct {
	svc      *Service
	logger   *logging.Logger
	contacts ContactDirectory
}

// NewHandler creates the booking HTTP handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("booking: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// WithContacts attaches the patient contact directory.
func (h *Handler) WithContacts(c ContactDirectory) *Handler {
	h.contacts = c
	return h
}

// Routes mounts the booking endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/availability", h.GetAvailability)
	r.Post("/bookings", h.StartBooking)
	r.Get("/bookings/{bookingID}", h.GetBooking)
	r.Post("/bookings/{bookingID}/confirm", h.ConfirmBooking)
	r.Post("/bookings/{bookingID}/cancel", h.CancelBooking)
	r.Post("/bookings/{bookingID}/reschedule", h.RescheduleBooking)
	r.Get("/patients/{patientID}/bookings", h.ListPatientBookings)
}

// WindowResponse is one bookable window in availability responses.
type WindowResponse struct {
	ScheduleID  string `json:"schedule_id"`
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	MaxPatients int    `json:"max_patients"`
	Confirmed   int    `json:"confirmed_count"`
	Remaining   int    `json:"remaining"`
	PriceCents  int64  `json:"price_cents"`
	Bookable    bool   `json:"bookable"`
}

// GetAvailability returns capacity windows for a doctor over a date range.
// GET /availability?doctor_id=...&from=2025-01-20&to=2025-01-27
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
	if err != nil {
		jsonError(w, "invalid doctor_id", http.StatusBadRequest)
		return
	}
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		jsonError(w, "invalid from date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		jsonError(w, "invalid to date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	windows, err := h.svc.ResolveAvailability(r.Context(), doctorID, from, to)
	if err != nil {
		h.writeServiceError(w, "resolve availability", err)
		return
	}

	out := make([]WindowResponse, 0, len(windows))
	for _, win := range windows {
		out = append(out, toWindowResponse(win))
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": out})
}

// StartBookingRequest begins a booking. Contact fields are optional; when an
// email is given it is recorded so lifecycle notifications can be delivered.
type StartBookingRequest struct {
	ScheduleID   string `json:"schedule_id"`
	PatientID    string `json:"patient_id"`
	PatientEmail string `json:"patient_email,omitempty"`
	PatientName  string `json:"patient_name,omitempty"`
}

// StartBookingResponse carries the hold and the payment client secret.
type StartBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	ClientSecret  string `json:"client_secret"`
	Status        string `json:"status"`
}

// StartBooking reserves a capacity unit and opens a payment intent.
// POST /bookings
func (h *Handler) StartBooking(w http.ResponseWriter, r *http.Request) {
	var req StartBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	scheduleID, err := uuid.Parse(req.ScheduleID)
	if err != nil {
		jsonError(w, "invalid schedule_id", http.StatusBadRequest)
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		jsonError(w, "invalid patient_id", http.StatusBadRequest)
		return
	}

	// Best effort: a contact write failure must not block the booking.
	if h.contacts != nil && req.PatientEmail != "" {
		if err := h.contacts.UpsertContact(r.Context(), patientID,
			notify.Contact{Email: req.PatientEmail, Name: req.PatientName}); err != nil {
			h.logger.Warn("contact upsert failed", "patient_id", patientID, "error", err)
		}
	}

	res, err := h.svc.StartBooking(r.Context(), scheduleID, patientID)
	if err != nil {
		h.writeServiceError(w, "start booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, StartBookingResponse{
		AppointmentID: res.AppointmentID.String(),
		ClientSecret:  res.ClientSecret,
		Status:        string(appointment.StatusPendingPayment),
	})
}

// GetBooking returns one appointment.
// GET /bookings/{bookingID}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		jsonError(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(appt))
}

// ConfirmBooking finalizes a paid reservation.
// POST /bookings/{bookingID}/confirm
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		jsonError(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.ConfirmBooking(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "confirm booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(appt))
}

// CancelRequest identifies the actor behind a cancel or reschedule.
type CancelRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
}

// CancelBooking releases an appointment's capacity unit.
// POST /bookings/{bookingID}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		jsonError(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	actor, ok := parseActor(req.ActorID, req.ActorRole)
	if !ok {
		jsonError(w, "invalid actor", http.StatusBadRequest)
		return
	}

	if err := h.svc.Cancel(r.Context(), id, actor); err != nil {
		h.writeServiceError(w, "cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(appointment.StatusCancelled)})
}

// RescheduleRequest moves a confirmed booking to a new window.
type RescheduleRequest struct {
	NewScheduleID string `json:"new_schedule_id"`
	ActorID       string `json:"actor_id"`
	ActorRole     string `json:"actor_role"`
}

// RescheduleBooking moves a confirmed booking to a different window.
// POST /bookings/{bookingID}/reschedule
func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		jsonError(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	newScheduleID, err := uuid.Parse(req.NewScheduleID)
	if err != nil {
		jsonError(w, "invalid new_schedule_id", http.StatusBadRequest)
		return
	}
	actor, ok := parseActor(req.ActorID, req.ActorRole)
	if !ok {
		jsonError(w, "invalid actor", http.StatusBadRequest)
		return
	}

	replacement, err := h.svc.Reschedule(r.Context(), id, newScheduleID, actor)
	if err != nil {
		h.writeServiceError(w, "reschedule booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(replacement))
}

// ListPatientBookings returns a patient's bookings, newest first.
// GET /patients/{patientID}/bookings?limit=50
func (h *Handler) ListPatientBookings(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		jsonError(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	appts, err := h.svc.ListPatientBookings(r.Context(), patientID, limit)
	if err != nil {
		h.writeServiceError(w, "list patient bookings", err)
		return
	}
	out := make([]BookingResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toBookingResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

// BookingResponse is the wire shape of an appointment.
type BookingResponse struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	DoctorID    string `json:"doctor_id"`
	ScheduleID  string `json:"schedule_id"`
	StartAt     string `json:"start_at"`
	EndAt       string `json:"end_at"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	CreatedAt   string `json:"created_at"`
}

func toBookingResponse(a *appointment.Appointment) BookingResponse {
	return BookingResponse{
		ID:          a.ID.String(),
		PatientID:   a.PatientID.String(),
		DoctorID:    a.DoctorID.String(),
		ScheduleID:  a.ScheduleID.String(),
		StartAt:     a.StartAt.Format(time.RFC3339),
		EndAt:       a.EndAt.Format(time.RFC3339),
		Status:      string(a.Status),
		AmountCents: a.AmountCents,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

func toWindowResponse(w schedule.CapacityWindow) WindowResponse {
	return WindowResponse{
		ScheduleID:  w.ScheduleID.String(),
		DoctorID:    w.DoctorID.String(),
		Date:        w.Date.Format("2006-01-02"),
		StartTime:   w.StartTime.String(),
		EndTime:     w.EndTime.String(),
		MaxPatients: w.MaxPatients,
		Confirmed:   w.ConfirmedCount,
		Remaining:   w.Remaining,
		PriceCents:  w.PriceCents,
		Bookable:    w.Remaining > 0,
	}
}

func parseActor(id, role string) (Actor, bool) {
	actorID, err := uuid.Parse(id)
	if err != nil {
		return Actor{}, false
	}
	switch Role(role) {
	case RolePatient, RoleDoctor, RoleAdmin:
		return Actor{ID: actorID, Role: Role(role)}, true
	default:
		return Actor{}, false
	}
}

// writeServiceError maps the booking error taxonomy to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrConflict):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrCancellationWindow):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrPaymentVerification):
		jsonError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, ErrRateLimited):
		jsonError(w, err.Error(), http.StatusTooManyRequests)
	default:
		h.logger.Error("booking handler error", "op", op, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
