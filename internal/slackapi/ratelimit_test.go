package slackapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketConsumesOnePerTake(t *testing.T) {
	b := newTokenBucket(3, 60)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoErrorf(t, b.take(ctx), "take %d", i)
	}
	assert.Lessf(t, b.tokens, 1.0, "expected bucket to be drained, tokens=%v", b.tokens)
}

// fakeClock lets the test advance "now" from a different goroutine than
// the one the token bucket reads it from, without racing on the
// underlying time.Time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucketBlocksUntilRefill(t *testing.T) {
	b := newTokenBucket(1, 60) // 1 token/sec refill
	clock := &fakeClock{now: time.Now()}
	b.nowFn = clock.Now

	ctx := context.Background()
	require.NoError(t, b.take(ctx), "first take")

	done := make(chan error, 1)
	go func() { done <- b.take(ctx) }()

	select {
	case <-done:
		t.Fatal("take returned before refill elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(1100 * time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err, "take after refill")
	case <-time.After(2 * time.Second):
		t.Fatal("take never unblocked after simulated refill")
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	b := newTokenBucket(1, 1) // very slow refill
	ctx := context.Background()
	require.NoError(t, b.take(ctx), "first take")

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, b.take(cctx), "expected take to fail once context is cancelled")
}
