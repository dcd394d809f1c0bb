package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// VelocityLimiter caps booking attempts per patient over a sliding window
// using a Redis counter with a TTL. It implements AttemptAllower.
type VelocityLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewVelocityLimiter creates the limiter. max attempts per window per patient.
func NewVelocityLimiter(client *redis.Client, max int, window time.Duration) *VelocityLimiter {
	if client == nil {
		panic("booking: redis client required")
	}
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &VelocityLimiter{client: client, max: max, window: window}
}

// Allow increments the patient's attempt counter and reports whether the
// attempt is within budget. The TTL is set only when the key is created, so
// the window is anchored at the first attempt.
func (l *VelocityLimiter) Allow(ctx context.Context, patientID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("booking:attempts:%s", patientID)

	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("booking: velocity incr: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("booking: velocity expire: %w", err)
		}
	}
	return n <= int64(l.max), nil
}
