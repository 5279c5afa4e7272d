package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// CacheKeyPrefix namespaces every session cache entry
const CacheKeyPrefix = "auth:"

// flightTimeout bounds a shared lookup once it no longer follows any one
// caller's context
const flightTimeout = 10 * time.Second

// CachedResolver keeps resolved identities in Redis in front of a slower
// resolver. Redis failures fall through to the wrapped resolver. Concurrent
// lookups of the same token share one call to it.
type CachedResolver struct {
	next      TokenResolver
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *logrus.Logger
	metrics   *observability.Metrics
	group     singleflight.Group
	now       func() time.Time
}

// NewCachedResolver wraps next. A nil client disables caching but keeps
// singleflight collapsing.
func NewCachedResolver(next TokenResolver, client *redis.Client, namespace string, ttl time.Duration, logger *logrus.Logger, metrics *observability.Metrics) *CachedResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolver{
		next:      next,
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Token delegates to the wrapped resolver
func (c *CachedResolver) Token(headers http.Header) string {
	return c.next.Token(headers)
}

func (c *CachedResolver) key(token string) string {
	return CacheKeyPrefix + c.namespace + ":" + HashToken(token)
}

// GetSession returns the cached identity for the request token or resolves
// and caches it. Negative results are never cached.
func (c *CachedResolver) GetSession(ctx context.Context, headers http.Header) (*Identity, error) {
	token := c.next.Token(headers)
	if token == "" {
		return c.next.GetSession(ctx, headers)
	}
	key := c.key(token)

	if id := c.lookup(ctx, key); id != nil {
		return id, nil
	}

	// The flight outlives any single caller, so one client going away must
	// not fail the others waiting on it
	ch := c.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		id, err := c.next.GetSession(fctx, headers)
		if err != nil {
			return nil, err
		}
		c.store(fctx, key, id)
		return id, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers sharing a flight must not share one mutable value
		id := *res.Val.(*Identity)
		return &id, nil
	}
}

func (c *CachedResolver) lookup(ctx context.Context, key string) *Identity {
	if c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.ObserveCache("session", false)
		return nil
	}
	if err != nil {
		c.logger.WithError(err).Warn("session cache read failed, falling back to store")
		c.metrics.ObserveFailOpen(observability.ComponentSessionCache)
		return nil
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		c.logger.WithError(err).Warn("discarding corrupt session cache entry")
		c.client.Del(ctx, key)
		return nil
	}
	if !id.Session.ExpiresAt.After(c.now()) {
		c.client.Del(ctx, key)
		c.metrics.ObserveCache("session", false)
		return nil
	}

	c.metrics.ObserveCache("session", true)
	return &id
}

func (c *CachedResolver) store(ctx context.Context, key string, id *Identity) {
	if c.client == nil {
		return
	}

	ttl := c.ttl
	if remaining := id.Session.ExpiresAt.Sub(c.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(id)
	if err != nil {
		c.logger.WithError(err).Warn("failed to encode session for cache")
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("session cache write failed")
	}
}

// Invalidate drops the cache entry for token
func (c *CachedResolver) Invalidate(ctx context.Context, token string) error {
	if c.client == nil || token == "" {
		return nil
	}
	return c.client.Del(ctx, c.key(token)).Err()
}
