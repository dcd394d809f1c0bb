package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

// FakeProvider is an in-memory payment provider for development and demo
// environments. Intents are "captured" by calling MarkSucceeded, which demo
// endpoints and tests use in place of a real checkout.
type FakeProvider struct {
	mu       sync.Mutex
	intents  map[string]bool // intent id -> succeeded
	refunds  map[string]int64
	logger   *logging.Logger
	failNext bool
}

// NewFakeProvider creates a fake payment provider.
func NewFakeProvider(logger *logging.Logger) *FakeProvider {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeProvider{
		intents: make(map[string]bool),
		refunds: make(map[string]int64),
		logger:  logger,
	}
}

// FailNext makes the next provider call return an error, for testing retry
// and release paths.
func (p *FakeProvider) FailNext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = true
}

func (p *FakeProvider) takeFailure() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return true
	}
	return false
}

// CreateIntent records a new unpaid intent.
func (p *FakeProvider) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	if p.takeFailure() {
		return nil, fmt.Errorf("payments: fake provider forced failure")
	}
	id := "pi_fake_" + uuid.NewString()[:8]
	p.mu.Lock()
	p.intents[id] = false
	p.mu.Unlock()
	p.logger.Info("fake payment intent created",
		"intent_id", id, "amount_cents", amountCents, "currency", currency)
	return &Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

// VerifyIntent reports whether MarkSucceeded was called for the intent.
func (p *FakeProvider) VerifyIntent(ctx context.Context, id string) (bool, error) {
	if p.takeFailure() {
		return false, fmt.Errorf("payments: fake provider forced failure")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	succeeded, ok := p.intents[id]
	if !ok {
		return false, fmt.Errorf("payments: unknown intent %s", id)
	}
	return succeeded, nil
}

// Refund records a refund against a captured intent.
func (p *FakeProvider) Refund(ctx context.Context, intentID string, amountCents int64) error {
	if p.takeFailure() {
		return fmt.Errorf("payments: fake provider forced failure")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if succeeded, ok := p.intents[intentID]; !ok || !succeeded {
		return fmt.Errorf("payments: cannot refund uncaptured intent %s", intentID)
	}
	p.refunds[intentID] += amountCents
	return nil
}

// MarkSucceeded simulates the patient completing checkout.
func (p *FakeProvider) MarkSucceeded(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.intents[id]; ok {
		p.intents[id] = true
	}
}

// RefundedAmount returns the total refunded for an intent.
func (p *FakeProvider) RefundedAmount(id string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refunds[id]
}
