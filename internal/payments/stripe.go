package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

var stripeTracer = otel.Tracer("medbook.internal.payments.stripe")

// StripeProvider talks to the Stripe PaymentIntents API. Transient failures
// (network errors, 5xx) are retried a bounded number of times with a fixed
// base delay; 4xx responses are surfaced immediately.
type StripeProvider struct {
	secretKey   string
	baseURL     string
	apiVersion  string
	httpClient  *http.Client
	logger      *logging.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewStripeProvider creates a Stripe-backed payment provider.
func NewStripeProvider(secretKey string, logger *logging.Logger) *StripeProvider {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeProvider{
		secretKey:   secretKey,
		baseURL:     "https://api.stripe.com",
		apiVersion:  "2024-12-18.acacia",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		maxAttempts: 3,
		retryDelay:  500 * time.Millisecond,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (p *StripeProvider) WithBaseURL(baseURL string) *StripeProvider {
	if baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	return p
}

// WithRetry overrides retry behaviour for money-moving calls.
func (p *StripeProvider) WithRetry(maxAttempts int, delay time.Duration) *StripeProvider {
	if maxAttempts >= 1 {
		p.maxAttempts = maxAttempts
	}
	if delay > 0 {
		p.retryDelay = delay
	}
	return p
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// CreateIntent opens a PaymentIntent. An idempotency key derived once per
// call makes the bounded retries safe: Stripe collapses replays into the
// original request.
func (p *StripeProvider) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_payment_intent")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payments.amount_cents", amountCents),
		attribute.String("payments.currency", currency),
	)

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	idempotencyKey := "intent-" + uuid.NewString()
	body, err := p.do(ctx, http.MethodPost, "/v1/payment_intents", form, idempotencyKey)
	if err != nil {
		return nil, err
	}

	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("payments: decode intent: %w", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, fmt.Errorf("payments: stripe returned incomplete intent")
	}
	return &Intent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// VerifyIntent checks the intent status server-side. Only "succeeded" counts
// as paid; everything else is a definitive not-paid.
func (p *StripeProvider) VerifyIntent(ctx context.Context, id string) (bool, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.verify_payment_intent")
	defer span.End()
	span.SetAttributes(attribute.String("payments.intent_id", id))

	body, err := p.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, "")
	if err != nil {
		return false, err
	}
	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return false, fmt.Errorf("payments: decode intent: %w", err)
	}
	return intent.Status == "succeeded", nil
}

// Refund returns funds for a captured intent. Idempotent per intent and
// amount so a retried cancellation cannot double-refund.
func (p *StripeProvider) Refund(ctx context.Context, intentID string, amountCents int64) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("payments.intent_id", intentID),
		attribute.Int64("payments.amount_cents", amountCents),
	)

	form := url.Values{}
	form.Set("payment_intent", intentID)
	if amountCents > 0 {
		form.Set("amount", strconv.FormatInt(amountCents, 10))
	}
	idempotencyKey := fmt.Sprintf("refund-%s-%d", intentID, amountCents)
	if _, err := p.do(ctx, http.MethodPost, "/v1/refunds", form, idempotencyKey); err != nil {
		return err
	}
	return nil
}

// do performs one Stripe API call with bounded retries on transient failures.
func (p *StripeProvider) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt-1)):
			}
		}

		body, retryable, err := p.doOnce(ctx, method, path, form, idempotencyKey)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		p.logger.Warn("stripe request failed, retrying",
			"path", path, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("payments: stripe request exhausted %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *StripeProvider) doOnce(ctx context.Context, method, path string, form url.Values, idempotencyKey string) ([]byte, bool, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Stripe-Version", p.apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("payments: stripe request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("payments: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("payments: stripe %s %s: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("payments: stripe %s %s: status %d: %s", method, path, resp.StatusCode, truncate(body, 256))
	}
	return body, false, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
