package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

// ErrConfirmRejected marks a confirmation failure that no retry can fix: the
// hold already expired, the appointment is gone, or it moved to a state the
// payment can no longer apply to. The webhook acknowledges such deliveries
// and refunds the captured intent instead of asking the provider to retry.
var ErrConfirmRejected = errors.New("payments: confirmation rejected")

// BookingConfirmer finalizes a booking once the provider reports payment.
// Implementations wrap terminal failures in ErrConfirmRejected.
type BookingConfirmer interface {
	ConfirmBooking(ctx context.Context, appointmentID uuid.UUID) error
}

// Refunder returns captured funds. A zero amount refunds the full capture.
type Refunder interface {
	Refund(ctx context.Context, intentID string, amountCents int64) error
}

// EventDeduper records provider event ids so webhook redeliveries are no-ops.
// Events are marked only after successful handling, so a failed delivery can
// still be retried by the provider.
type EventDeduper interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler receives payment provider webhooks and drives booking
// confirmation. Signature verification happens before any parsing; dedup
// happens before any side effect.
type WebhookHandler struct {
	secret    string
	confirmer BookingConfirmer
	deduper   EventDeduper
	refunder  Refunder
	logger    *logging.Logger
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookHandler creates a payment webhook handler.
func NewWebhookHandler(secret string, confirmer BookingConfirmer, deduper EventDeduper, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		secret:    secret,
		confirmer: confirmer,
		deduper:   deduper,
		logger:    logger,
		tolerance: 5 * time.Minute,
		now:       time.Now,
	}
}

// WithRefunder enables refunds for payments that arrive after their booking
// can no longer be confirmed.
func (h *WebhookHandler) WithRefunder(r Refunder) *WebhookHandler {
	h.refunder = r
	return h
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Handle processes a provider webhook delivery.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if err := h.verifySignature(r.Header.Get("Stripe-Signature"), body); err != nil {
		h.logger.Warn("payment webhook rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if h.deduper != nil {
		seen, err := h.deduper.AlreadyProcessed(r.Context(), "stripe", evt.ID)
		if err != nil {
			// Fail the delivery so the provider retries; the check will
			// succeed once the store recovers.
			h.logger.Error("payment webhook dedup failed", "event_id", evt.ID, "error", err)
			http.Error(w, "dedup unavailable", http.StatusInternalServerError)
			return
		}
		if seen {
			h.logger.Info("payment webhook already processed", "event_id", evt.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	switch evt.Type {
	case "payment_intent.succeeded":
		h.handleSucceeded(r.Context(), w, evt)
	case "payment_intent.payment_failed":
		h.logger.Info("payment failed event received",
			"event_id", evt.ID, "intent_id", evt.Data.Object.ID)
		h.markProcessed(r.Context(), evt.ID)
		w.WriteHeader(http.StatusOK)
	default:
		h.logger.Debug("ignoring webhook event", "type", evt.Type)
		h.markProcessed(r.Context(), evt.ID)
		w.WriteHeader(http.StatusOK)
	}
}

// markProcessed records the event after successful handling. Failures are
// logged only: the worst case is a redelivered event hitting the idempotent
// confirm path again.
func (h *WebhookHandler) markProcessed(ctx context.Context, eventID string) {
	if h.deduper == nil {
		return
	}
	if _, err := h.deduper.MarkProcessed(ctx, "stripe", eventID); err != nil {
		h.logger.Warn("payment webhook mark processed failed", "event_id", eventID, "error", err)
	}
}

func (h *WebhookHandler) handleSucceeded(ctx context.Context, w http.ResponseWriter, evt webhookEvent) {
	raw := evt.Data.Object.Metadata["appointment_id"]
	appointmentID, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Error("payment webhook missing appointment metadata",
			"event_id", evt.ID, "intent_id", evt.Data.Object.ID)
		// Nothing to retry; acknowledge so the provider stops redelivering.
		h.markProcessed(ctx, evt.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.confirmer.ConfirmBooking(ctx, appointmentID); err != nil {
		if errors.Is(err, ErrConfirmRejected) {
			h.handleRejected(ctx, w, evt, appointmentID, err)
			return
		}
		// Transient: fail the delivery so the provider retries.
		h.logger.Error("webhook booking confirmation failed",
			"event_id", evt.ID, "appointment_id", appointmentID, "error", err)
		http.Error(w, "confirmation failed", http.StatusInternalServerError)
		return
	}
	h.markProcessed(ctx, evt.ID)
	h.logger.Info("booking confirmed via webhook",
		"event_id", evt.ID, "appointment_id", appointmentID)
	w.WriteHeader(http.StatusOK)
}

// handleRejected handles a payment captured for a booking that cannot be
// confirmed anymore. Retrying would 500 forever, so the delivery is
// acknowledged and the patient's money sent back. If the refund itself fails
// the delivery stays unacknowledged so the provider redelivers and the refund
// is attempted again.
func (h *WebhookHandler) handleRejected(ctx context.Context, w http.ResponseWriter, evt webhookEvent, appointmentID uuid.UUID, cause error) {
	intentID := evt.Data.Object.ID
	h.logger.Warn("payment captured for unconfirmable booking",
		"event_id", evt.ID, "appointment_id", appointmentID, "intent_id", intentID, "error", cause)

	if h.refunder != nil && intentID != "" {
		if err := h.refunder.Refund(ctx, intentID, 0); err != nil {
			h.logger.Error("webhook refund failed",
				"event_id", evt.ID, "intent_id", intentID, "error", err)
			http.Error(w, "refund failed", http.StatusInternalServerError)
			return
		}
		h.logger.Info("payment refunded", "event_id", evt.ID, "intent_id", intentID)
	}

	h.markProcessed(ctx, evt.ID)
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the Stripe-style signature header: a unix timestamp
// and an HMAC-SHA256 of "<timestamp>.<body>" under the webhook secret.
func (h *WebhookHandler) verifySignature(header string, body []byte) error {
	if h.secret == "" {
		return fmt.Errorf("webhook secret not configured")
	}
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad signature timestamp: %w", err)
	}
	age := h.now().Sub(time.Unix(tsInt, 0))
	if age > h.tolerance || age < -h.tolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}
