package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/config"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/middleware"
)

func TestBuildHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.RateLimit.API = config.WindowConfig{Requests: 1, Window: time.Minute}
	cfg.Server.CORSAllowedOrigins = []string{"https://app.example.com"}

	router := mux.NewRouter()
	router.HandleFunc("/api/rpc/{router}/{procedure}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	lim := newLimiters(cfg.RateLimit, nil, logger, nil)
	require.Len(t, lim.local, 3)
	handler := buildHandler(router, cfg, bearerUsers, lim, logger, nil)

	do := func(path string, user ...string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Origin", "https://app.example.com")
		if len(user) > 0 {
			r.Header.Set("Authorization", "Bearer "+user[0])
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	w := do("/api/rpc/health/check")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusTooManyRequests, do("/api/rpc/health/check").Code)
	assert.Equal(t, http.StatusOK, do("/api/health").Code, "health is not rate limited")

	// signed-in callers get their own budget rather than sharing the address's
	assert.Equal(t, http.StatusOK, do("/api/rpc/health/check", "alice").Code)
	assert.Equal(t, http.StatusOK, do("/api/rpc/health/check", "bob").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("/api/rpc/health/check", "alice").Code)
}

// bearerUsers treats the bearer token as the user id
var bearerUsers = auth.SessionResolverFunc(func(ctx context.Context, h http.Header) (*auth.Identity, error) {
	if token := auth.BearerToken(h); token != "" {
		return &auth.Identity{User: auth.User{ID: token}}, nil
	}
	return nil, auth.ErrNoSession
})

func TestNewLimiters_UsesRedisWhenConfigured(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	lim := newLimiters(config.Default().RateLimit, rdb, logger, nil)
	_, ok := lim.strict.(*middleware.DistributedRateLimiter)
	assert.True(t, ok)
	assert.Len(t, lim.local, 3)
}

func TestScheduleJobs_RejectsBadSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.RateLimit.CleanupSchedule = "every now and then"

	_, err := scheduleJobs(cfg, newLimiters(cfg.RateLimit, nil, logger, nil), nil, nil, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit sweep")
}
