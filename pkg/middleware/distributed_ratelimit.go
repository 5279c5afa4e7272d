package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

const redisKeyPrefix = "ratelimit"

// DistributedRateLimiter is a fixed-window limiter shared through Redis.
// Redis failures fall back to a local in-memory window.
type DistributedRateLimiter struct {
	redis    *redis.Client
	name     string
	config   *RateLimitConfig
	fallback *RateLimiter
	logger   *logrus.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewDistributedRateLimiter creates a Redis-backed limiter
func NewDistributedRateLimiter(client *redis.Client, name string, config *RateLimitConfig, logger *logrus.Logger, metrics *observability.Metrics) *DistributedRateLimiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DistributedRateLimiter{
		redis:    client,
		name:     name,
		config:   config,
		fallback: NewRateLimiter(config),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Fallback returns the in-memory limiter used while Redis is unavailable
func (l *DistributedRateLimiter) Fallback() *RateLimiter {
	return l.fallback
}

func (l *DistributedRateLimiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, l.name, key)
}

// Allow increments the shared counter for key
func (l *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := l.allowRedis(ctx, key)
	if err != nil {
		l.metrics.ObserveFailOpen(observability.ComponentRateLimit)
		l.logger.WithError(err).WithField("limiter", l.name).Warn("rate limit store unavailable, using local window")
		return l.fallback.Allow(ctx, key)
	}
	return d, nil
}

func (l *DistributedRateLimiter) allowRedis(ctx context.Context, key string) (Decision, error) {
	rk := l.redisKey(key)

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, rk)
	ttl := pipe.PTTL(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	remainingTTL := ttl.Val()
	if remainingTTL <= 0 {
		// first hit in this window, or a key left without expiry
		if err := l.redis.PExpire(ctx, rk, l.config.WindowDuration).Err(); err != nil {
			return Decision{}, err
		}
		remainingTTL = l.config.WindowDuration
	}

	d := Decision{
		Limit:   l.config.RequestsPerWindow,
		ResetAt: l.now().Add(remainingTTL),
	}
	if count > l.config.RequestsPerWindow {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = l.config.RequestsPerWindow - count
	return d, nil
}

// Reset clears the counter for key
func (l *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, l.redisKey(key)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (l *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}
