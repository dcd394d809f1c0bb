package booking

import "errors"

// Error taxonomy for the booking core. Callers branch on these with
// errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrValidation marks bad input shape or range. Not retryable.
	ErrValidation = errors.New("booking: validation failed")
	// ErrNotFound marks an unknown schedule or appointment. Not retryable.
	ErrNotFound = errors.New("booking: not found")
	// ErrForbidden marks an actor operating on someone else's booking.
	ErrForbidden = errors.New("booking: forbidden")
	// ErrCapacityExceeded marks a window that was full at reservation time.
	// Callers should re-fetch availability instead of retrying the same window.
	ErrCapacityExceeded = errors.New("booking: window capacity exceeded")
	// ErrCancellationWindow marks a patient cancel attempt inside the
	// minimum-notice window.
	ErrCancellationWindow = errors.New("booking: cancellation window violated")
	// ErrPaymentVerification marks a payment the provider would not confirm.
	ErrPaymentVerification = errors.New("booking: payment verification failed")
	// ErrConflict marks a state-transition guard failure, such as losing a
	// confirm/expire race. Retryable after re-reading current state.
	ErrConflict = errors.New("booking: state conflict")
	// ErrRateLimited marks a patient exceeding the booking attempt budget.
	ErrRateLimited = errors.New("booking: too many attempts")
)
