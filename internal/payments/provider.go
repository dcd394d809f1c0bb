package payments

import "context"

// Intent is an external payment intent handle.
type Intent struct {
	ID           string
	ClientSecret string
}

// Provider abstracts the payment processor. Implementations must be safe for
// concurrent use by independent request handlers.
type Provider interface {
	// CreateIntent opens a payment intent for the given amount. Metadata is
	// attached verbatim so webhooks can correlate back to an appointment.
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error)
	// VerifyIntent reports whether the intent has been captured. A false
	// return with nil error is a definitive "not paid".
	VerifyIntent(ctx context.Context, id string) (bool, error)
	// Refund returns funds for a captured intent.
	Refund(ctx context.Context, intentID string, amountCents int64) error
}
