package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/invoicer/pkg/apperr"
	"github.com/platinummonkey/invoicer/pkg/contextkeys"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/observability"
)

// KeyFunc derives the limiter key for a request
type KeyFunc func(r *http.Request) string

// UserKey is the limiter key for an authenticated user
func UserKey(userID string) string {
	return "user:" + userID
}

// ClientKey keys by user when one is known, otherwise by client address
func ClientKey(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if userID := contextkeys.GetUserID(r.Context()); userID != "" {
			return UserKey(userID)
		}
		return "ip:" + httputil.ClientIP(r, trustProxy)
	}
}

// Check counts one request and returns a RATE_LIMITED error when the window is spent
func Check(ctx context.Context, limiter Limiter, name, key string, metrics *observability.Metrics) (Decision, error) {
	d, err := limiter.Allow(ctx, key)
	if err != nil {
		return d, apperr.Internal(err)
	}
	if !d.Allowed {
		metrics.ObserveRateLimited(name)
		return d, apperr.RateLimited(d.RetryAfter(time.Now()))
	}
	return d, nil
}

// RateLimitMiddleware applies a named limiter to every request
type RateLimitMiddleware struct {
	name    string
	limiter Limiter
	key     KeyFunc
	metrics *observability.Metrics
}

// NewRateLimitMiddleware creates rate limit middleware
func NewRateLimitMiddleware(name string, limiter Limiter, key KeyFunc, metrics *observability.Metrics) *RateLimitMiddleware {
	if key == nil {
		key = ClientKey(false)
	}
	return &RateLimitMiddleware{name: name, limiter: limiter, key: key, metrics: metrics}
}

// Handler wraps next with the limiter
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := Check(r.Context(), m.limiter, m.name, m.key(r), m.metrics)
		if d.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ForPrefix applies the limiter only to paths under prefix
func (m *RateLimitMiddleware) ForPrefix(prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := m.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, prefix) {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
