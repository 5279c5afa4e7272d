// Package middleware provides HTTP middleware for rate limiting and response hardening.
//
// # Rate Limiting
//
// Limiters use fixed windows. The first request for a key opens a window of
// WindowDuration; once RequestsPerWindow requests are counted, further
// requests are rejected with RATE_LIMITED until the window resets.
//
//	limiter := middleware.NewRateLimiter(middleware.ConfigFromWindow(cfg.RateLimit.API))
//	mw := middleware.NewRateLimitMiddleware(middleware.LimiterAPI, limiter, middleware.ClientKey(false), metrics)
//	router.Use(mw.Handler)
//
// DistributedRateLimiter shares windows through Redis and falls back to an
// in-memory window when Redis is unavailable.
//
// Keys are "user:<id>" for authenticated callers and "ip:<addr>" otherwise.
// Responses carry X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
//
// In-memory windows are swept periodically:
//
//	cron.AddFunc("@every 1m", func() { limiter.Sweep() })
package middleware
