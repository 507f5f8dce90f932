// Package retry computes when a failed delivery should be attempted again.
package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Default policy values, used for any field an endpoint leaves unset.
const (
	DefaultMaxRetries        = 5
	DefaultInitialBackoff    = time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxBackoff        = 5 * time.Minute
)

var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy bounds the retries of a single delivery job. MaxRetries is the total
// number of attempts a job gets before it is dead-lettered.
type Policy struct {
	MaxRetries        int           `json:"max_retries"`
	InitialBackoff    time.Duration `json:"initial_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxBackoff        time.Duration `json:"max_backoff"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxBackoff:        DefaultMaxBackoff,
	}
}

// WithDefaults fills zero fields from base.
func (p Policy) WithDefaults(base Policy) Policy {
	if p.MaxRetries == 0 {
		p.MaxRetries = base.MaxRetries
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = base.InitialBackoff
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = base.BackoffMultiplier
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = base.MaxBackoff
	}
	return p
}

// Validate rejects policies that could never schedule a sane retry.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 1:
		return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidPolicy)
	case p.InitialBackoff <= 0:
		return fmt.Errorf("%w: initial backoff must be positive", ErrInvalidPolicy)
	case p.BackoffMultiplier < 1:
		return fmt.Errorf("%w: backoff multiplier must be >= 1", ErrInvalidPolicy)
	case p.MaxBackoff < p.InitialBackoff:
		return fmt.Errorf("%w: max backoff must not be below initial backoff", ErrInvalidPolicy)
	}
	return nil
}

// Delay returns the wait before the retry that follows failed attempt number
// attempt (1-based): min(InitialBackoff * BackoffMultiplier^(attempt-1), MaxBackoff).
func Delay(attempt int, p Policy) time.Duration {
	if attempt <= 0 {
		return 0
	}

	d := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	// Float overflow and anything past the cap collapse to MaxBackoff.
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// NextRetryAt is now plus Delay(attempt, p).
func NextRetryAt(now time.Time, attempt int, p Policy) time.Time {
	return now.Add(Delay(attempt, p))
}

// Exhausted reports whether a job that has failed attempt times may not be retried.
func Exhausted(attempt int, p Policy) bool {
	return attempt >= p.MaxRetries
}
