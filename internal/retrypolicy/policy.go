// Package retrypolicy computes exponential backoff durations as a pure
// function over attempt index, kept separate from any transport so it can
// be unit tested without mocking time or randomness.
package retrypolicy

import (
	"math"
	"math/rand"
	"time"
)

// Policy configures exponential backoff with jitter.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Factor is the exponential multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0-1.0) applied to the delay.
	Jitter float64
}

// DefaultPolicy returns sensible defaults: 3 attempts, 200ms base, 10s cap,
// factor 2, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
	}
}

func (p Policy) sanitized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay computes the backoff duration to wait after the given failed
// attempt (1-indexed: attempt 1 is the delay before the second request). A random draw in
// [0,1) is supplied by the caller so tests can be deterministic.
func Delay(p Policy, attempt int, random float64) time.Duration {
	p = p.sanitized()
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.BaseDelay) * math.Pow(p.Factor, exp)
	jittered := base + base*p.Jitter*random
	capped := math.Min(jittered, float64(p.MaxDelay))
	return time.Duration(capped)
}

// NextDelay is Delay using the package's non-deterministic random source.
func NextDelay(p Policy, attempt int) time.Duration {
	return Delay(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not need cryptographic randomness
}
