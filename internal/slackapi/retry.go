package slackapi

import (
	"math"
	"strconv"
	"time"
)

const (
	// DefaultMaxAttempts bounds the retry loop, per spec.md §4.6.
	DefaultMaxAttempts = 3
	// DefaultInitialDelay is the first backoff delay.
	DefaultInitialDelay = time.Second
	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 60 * time.Second
	// DefaultExponentialBase is the backoff growth factor.
	DefaultExponentialBase = 2.0
)

// retryPolicy holds the backoff shape; zero value is invalid, use
// defaultRetryPolicy or set every field.
type retryPolicy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	base        float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: DefaultMaxAttempts,
		initial:     DefaultInitialDelay,
		max:         DefaultMaxDelay,
		base:        DefaultExponentialBase,
	}
}

// backoff computes the delay after failed attempt k (0-indexed: the
// delay before the *second* attempt uses k=0), per spec.md's
// min(initial_delay * base^k, max_delay).
func (p retryPolicy) backoff(k int) time.Duration {
	d := float64(p.initial) * math.Pow(p.base, float64(k))
	if d > float64(p.max) {
		d = float64(p.max)
	}
	return time.Duration(d)
}

// parseRetryAfter parses a Retry-After header value (seconds, per
// spec.md §4.6 and §6) and returns the delay it implies, or false if
// the header is absent or unparseable.
func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// effectiveDelay applies the "Retry-After overrides the computed delay
// only if larger" rule from spec.md §4.6.
func effectiveDelay(computed time.Duration, retryAfter string) time.Duration {
	if d, ok := parseRetryAfter(retryAfter); ok && d > computed {
		return d
	}
	return computed
}
