package notify

import (
	"math/rand"
	"time"
)

// Backoff computes the wait before the next attempt. Delays grow as base*2^(attempt-1),
// are capped at Cap, and carry equal jitter: half the delay is fixed, the other half random.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultBackoff is 30s doubling up to 30m.
func DefaultBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Cap: 30 * time.Minute}
}

// Delay returns the backoff after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	limit := b.Cap
	if limit <= 0 {
		limit = 30 * time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	half := delay / 2
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return half + time.Duration(r()*float64(delay-half))
}
