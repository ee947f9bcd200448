package failover

import (
	"math"
	"time"
)

const maxDuration = time.Duration(math.MaxInt64)

// RetryPolicy controls local retries against a single provider
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BaseDelay is the wait before the first retry
	BaseDelay time.Duration

	// Multiplier grows the delay on every retry
	Multiplier float64

	// MaxDelay caps the delay (0 means no cap)
	MaxDelay time.Duration

	// Jitter spreads each delay by up to ±25%
	Jitter bool
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Delay returns the wait after the given 0-based failed attempt:
// BaseDelay * Multiplier^attempt, capped by MaxDelay. random must return a
// value in [0, 1) and is only used when Jitter is set.
func (p RetryPolicy) Delay(attempt int, random func() float64) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	// uncapped growth must not overflow the int64 nanoseconds of a Duration
	if delay > float64(maxDuration) {
		delay = float64(maxDuration)
	}

	if p.Jitter && random != nil {
		spread := delay * 0.25
		delay += (random()*2 - 1) * spread
	}

	if delay < 0 {
		delay = 0
	}
	if delay >= float64(maxDuration) {
		return maxDuration
	}
	return time.Duration(delay)
}
