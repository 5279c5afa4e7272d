package middleware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/platinummonkey/invoicer/pkg/config"
)

// Limiter names used for metrics and configuration
const (
	LimiterAPI    = "api"
	LimiterAuth   = "auth"
	LimiterStrict = "strict"
)

// RateLimitConfig holds a fixed-window request budget
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConfigFromWindow converts a configured window into a limiter config
func ConfigFromWindow(w config.WindowConfig) *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: w.Requests, WindowDuration: w.Window}
}

// Decision is the outcome of a single limiter check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the wait until the window resets, rounded up to whole seconds
func (d Decision) RetryAfter(now time.Time) time.Duration {
	secs := math.Ceil(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Limiter decides whether a keyed request fits in its window
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter is an in-memory fixed-window limiter
type RateLimiter struct {
	mu      sync.Mutex
	config  *RateLimitConfig
	windows map[string]*window
	now     func() time.Time
}

// NewRateLimiter creates a new in-memory limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts a request against key. It never returns an error.
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.config.WindowDuration)}
		rl.windows[key] = w
	}

	d := Decision{Limit: rl.config.RequestsPerWindow, ResetAt: w.resetAt}
	if w.count >= rl.config.RequestsPerWindow {
		return d, nil
	}
	w.count++
	d.Allowed = true
	d.Remaining = rl.config.RequestsPerWindow - w.count
	return d, nil
}

// Sweep removes expired windows and returns how many were dropped
func (rl *RateLimiter) Sweep() int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
