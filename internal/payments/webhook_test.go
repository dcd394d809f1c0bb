package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubConfirmer struct {
	confirmed []uuid.UUID
	err       error
}

func (s *stubConfirmer) ConfirmBooking(ctx context.Context, id uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	s.confirmed = append(s.confirmed, id)
	return nil
}

type stubDeduper struct {
	seen map[string]bool
	err  error
}

func (s *stubDeduper) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.seen[provider+":"+eventID], nil
}

func (s *stubDeduper) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	key := provider + ":" + eventID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

type stubRefunder struct {
	refunded []string
	err      error
}

func (s *stubRefunder) Refund(ctx context.Context, intentID string, amountCents int64) error {
	if s.err != nil {
		return s.err
	}
	s.refunded = append(s.refunded, intentID)
	return nil
}

const testSecret = "whsec_test"

func sign(t *testing.T, body string, at time.Time) string {
	t.Helper()
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(ts + "." + body))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func successEvent(eventID string, appointmentID uuid.UUID) string {
	return fmt.Sprintf(`{"id":%q,"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"appointment_id":%q}}}}`,
		eventID, appointmentID)
}

func deliver(h *WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestWebhookConfirmsBooking(t *testing.T) {
	confirmer := &stubConfirmer{}
	h := NewWebhookHandler(testSecret, confirmer, &stubDeduper{}, nil)
	appointmentID := uuid.New()
	body := successEvent("evt_1", appointmentID)

	rec := deliver(h, body, sign(t, body, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(confirmer.confirmed) != 1 || confirmer.confirmed[0] != appointmentID {
		t.Errorf("expected one confirmation for %s, got %v", appointmentID, confirmer.confirmed)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	confirmer := &stubConfirmer{}
	h := NewWebhookHandler(testSecret, confirmer, &stubDeduper{}, nil)
	body := successEvent("evt_1", uuid.New())

	rec := deliver(h, body, "t=123,v1=deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(confirmer.confirmed) != 0 {
		t.Error("must not confirm on bad signature")
	}
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	h := NewWebhookHandler(testSecret, &stubConfirmer{}, &stubDeduper{}, nil)
	body := successEvent("evt_1", uuid.New())

	rec := deliver(h, body, sign(t, body, time.Now().Add(-time.Hour)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale timestamp, got %d", rec.Code)
	}
}

func TestWebhookRedeliveryIsNoOp(t *testing.T) {
	confirmer := &stubConfirmer{}
	h := NewWebhookHandler(testSecret, confirmer, &stubDeduper{}, nil)
	body := successEvent("evt_dup", uuid.New())

	first := deliver(h, body, sign(t, body, time.Now()))
	second := deliver(h, body, sign(t, body, time.Now()))

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses: %d %d", first.Code, second.Code)
	}
	if len(confirmer.confirmed) != 1 {
		t.Errorf("redelivery must not confirm twice, got %d confirmations", len(confirmer.confirmed))
	}
}

func TestWebhookDedupFailureAsksForRetry(t *testing.T) {
	h := NewWebhookHandler(testSecret, &stubConfirmer{}, &stubDeduper{err: fmt.Errorf("db down")}, nil)
	body := successEvent("evt_1", uuid.New())

	rec := deliver(h, body, sign(t, body, time.Now()))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so provider retries, got %d", rec.Code)
	}
}

func TestWebhookConfirmFailureAsksForRetry(t *testing.T) {
	h := NewWebhookHandler(testSecret, &stubConfirmer{err: fmt.Errorf("boom")}, nil, nil)
	body := successEvent("evt_1", uuid.New())

	rec := deliver(h, body, sign(t, body, time.Now()))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestWebhookRejectedConfirmRefundsAndAcks(t *testing.T) {
	confirmer := &stubConfirmer{err: fmt.Errorf("%w: reservation expired", ErrConfirmRejected)}
	refunder := &stubRefunder{}
	deduper := &stubDeduper{}
	h := NewWebhookHandler(testSecret, confirmer, deduper, nil).WithRefunder(refunder)
	body := successEvent("evt_late", uuid.New())

	rec := deliver(h, body, sign(t, body, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("terminal failure must be acknowledged, got %d", rec.Code)
	}
	if len(refunder.refunded) != 1 || refunder.refunded[0] != "pi_1" {
		t.Errorf("expected refund of pi_1, got %v", refunder.refunded)
	}
	if !deduper.seen["stripe:evt_late"] {
		t.Error("event must be marked processed so it is not redelivered")
	}
}

func TestWebhookRejectedConfirmRefundFailureRetries(t *testing.T) {
	confirmer := &stubConfirmer{err: fmt.Errorf("%w: reservation expired", ErrConfirmRejected)}
	deduper := &stubDeduper{}
	h := NewWebhookHandler(testSecret, confirmer, deduper, nil).
		WithRefunder(&stubRefunder{err: fmt.Errorf("provider down")})
	body := successEvent("evt_late", uuid.New())

	rec := deliver(h, body, sign(t, body, time.Now()))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed refund must ask for redelivery, got %d", rec.Code)
	}
	if deduper.seen["stripe:evt_late"] {
		t.Error("event must stay unprocessed until the refund lands")
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	confirmer := &stubConfirmer{}
	h := NewWebhookHandler(testSecret, confirmer, &stubDeduper{}, nil)
	body := `{"id":"evt_2","type":"charge.updated","data":{"object":{"id":"ch_1"}}}`

	rec := deliver(h, body, sign(t, body, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(confirmer.confirmed) != 0 {
		t.Error("unrelated events must not confirm bookings")
	}
}

func TestWebhookMissingMetadataAcked(t *testing.T) {
	confirmer := &stubConfirmer{}
	h := NewWebhookHandler(testSecret, confirmer, &stubDeduper{}, nil)
	body := `{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{}}}}`

	rec := deliver(h, body, sign(t, body, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack for unroutable event, got %d", rec.Code)
	}
	if len(confirmer.confirmed) != 0 {
		t.Error("nothing should be confirmed without appointment metadata")
	}
}
