package transport

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential reconnect delays.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter adds up to 25% on top of each delay, still bounded by Max.
	Jitter bool
}

// NewBackoff returns a doubling backoff between min and max with jitter enabled.
func NewBackoff(min, max time.Duration) Backoff {
	return Backoff{
		Min:        min,
		Max:        max,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Min) * math.Pow(mult, float64(attempt))
	if delay > float64(b.Max) || math.IsInf(delay, 0) {
		delay = float64(b.Max)
	}

	if b.Jitter {
		delay += rand.Float64() * delay * 0.25
		if delay > float64(b.Max) {
			delay = float64(b.Max)
		}
	}

	return time.Duration(delay)
}
