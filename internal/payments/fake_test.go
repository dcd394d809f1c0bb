package payments

import (
	"context"
	"testing"
)

func TestFakeProviderLifecycle(t *testing.T) {
	p := NewFakeProvider(nil)
	ctx := context.Background()

	intent, err := p.CreateIntent(ctx, 5000, "usd", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := p.VerifyIntent(ctx, intent.ID)
	if err != nil || ok {
		t.Fatalf("fresh intent should be unpaid: ok=%v err=%v", ok, err)
	}

	if err := p.Refund(ctx, intent.ID, 5000); err == nil {
		t.Error("refunding an uncaptured intent must fail")
	}

	p.MarkSucceeded(intent.ID)
	ok, err = p.VerifyIntent(ctx, intent.ID)
	if err != nil || !ok {
		t.Fatalf("captured intent should verify: ok=%v err=%v", ok, err)
	}

	if err := p.Refund(ctx, intent.ID, 5000); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := p.RefundedAmount(intent.ID); got != 5000 {
		t.Errorf("refunded amount = %d, want 5000", got)
	}
}

func TestFakeProviderUnknownIntent(t *testing.T) {
	p := NewFakeProvider(nil)
	if _, err := p.VerifyIntent(context.Background(), "pi_missing"); err == nil {
		t.Error("expected error for unknown intent")
	}
}

func TestFakeProviderFailNext(t *testing.T) {
	p := NewFakeProvider(nil)
	p.FailNext()
	if _, err := p.CreateIntent(context.Background(), 100, "usd", nil); err == nil {
		t.Fatal("expected forced failure")
	}
	if _, err := p.CreateIntent(context.Background(), 100, "usd", nil); err != nil {
		t.Fatalf("failure should clear after one call: %v", err)
	}
}
