// Package backoff provides classified retry with exponential backoff.
package backoff

import (
	"math"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Base is the delay before the second attempt.
	Base time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Cap bounds any single delay. Zero means uncapped.
	Cap time.Duration
}

// Delay calculates the backoff duration after a failed attempt.
// The formula is base * factor^(attempt-1), clamped to Cap.
// Attempt numbers start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	d := time.Duration(float64(p.Base) * math.Pow(p.Factor, exp))
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}

// DefaultPolicy returns the standard policy for backend calls:
// 4 attempts, 600ms base, doubling, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 4,
		Base:     600 * time.Millisecond,
		Factor:   2,
		Cap:      30 * time.Second,
	}
}
