package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(requests int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: requests, WindowDuration: window})
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newTestLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Equal(t, clock.t.Add(time.Minute), d.ResetAt)
	}

	d, _ := rl.Allow(ctx, "ip:10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	other, _ := rl.Allow(ctx, "ip:10.0.0.2")
	assert.True(t, other.Allowed, "keys have independent windows")
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl, clock := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	d, _ := rl.Allow(ctx, "user:u1")
	require.True(t, d.Allowed)
	d, _ = rl.Allow(ctx, "user:u1")
	require.False(t, d.Allowed)

	clock.Advance(time.Minute)
	d, _ = rl.Allow(ctx, "user:u1")
	assert.True(t, d.Allowed)
	assert.Equal(t, clock.t.Add(time.Minute), d.ResetAt)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl, clock := newTestLimiter(5, time.Minute)
	ctx := context.Background()

	rl.Allow(ctx, "ip:a")
	clock.Advance(30 * time.Second)
	rl.Allow(ctx, "ip:b")
	assert.Equal(t, 2, rl.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 0, rl.Len())
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := Decision{ResetAt: now.Add(1500 * time.Millisecond)}
	assert.Equal(t, 2*time.Second, d.RetryAfter(now))

	d = Decision{ResetAt: now}
	assert.Equal(t, time.Second, d.RetryAfter(now))
}
