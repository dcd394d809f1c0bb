package commission

import (
	"fmt"
	"math"
)

// Split is the platform/doctor division of a paid appointment amount.
type Split struct {
	Rate            float64
	AmountCents     int64
	CommissionCents int64
	PayoutCents     int64
}

// Calculate divides an appointment amount between platform commission and
// doctor payout. Commission is rounded half-up to whole cents; the payout is
// the remainder, so the two always sum to the original amount.
func Calculate(amountCents int64, rate float64) (Split, error) {
	if amountCents < 0 {
		return Split{}, fmt.Errorf("commission: negative amount %d", amountCents)
	}
	if rate < 0 || rate > 1 {
		return Split{}, fmt.Errorf("commission: rate %v out of [0,1]", rate)
	}
	commission := int64(math.Floor(float64(amountCents)*rate + 0.5))
	return Split{
		Rate:            rate,
		AmountCents:     amountCents,
		CommissionCents: commission,
		PayoutCents:     amountCents - commission,
	}, nil
}
