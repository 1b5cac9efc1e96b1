package slackapi

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wscache/wscache/internal/metrics"
)

const (
	// DefaultBucketCapacity is the default token-bucket capacity.
	DefaultBucketCapacity = 20
	// DefaultRefillPerMinute is the default refill rate, in tokens/minute.
	DefaultRefillPerMinute = 20
)

// tokenBucket is the single shared rate-limit gate described in
// spec.md §4.6 and §5: one counter, updated atomically under a mutex,
// refilled continuously rather than in discrete ticks so a caller that
// shows up after a long idle period doesn't wait for a tick boundary.
type tokenBucket struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time

	nowFn func() time.Time
}

func newTokenBucket(capacity int, refillPerMinute int) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(capacity),
		refillRate: float64(refillPerMinute) / 60.0,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		nowFn:      time.Now,
	}
}

func (b *tokenBucket) refillLocked() {
	now := b.nowFn()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// take blocks until a single token is available or ctx is cancelled.
func (b *tokenBucket) take(ctx context.Context) error {
	timer := prometheus.NewTimer(metrics.TokenBucketWait)
	defer timer.ObserveDuration()

	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		wait := time.Duration(deficit/b.refillRate*1000) * time.Millisecond
		if wait <= 0 {
			wait = time.Millisecond
		}
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
