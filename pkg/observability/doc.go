// Package observability provides structured logging, Prometheus metrics,
// query timing, health checks and OpenTelemetry setup.
//
// # Logging
//
// The process logger is a *logrus.Logger; request handlers log through the
// request-scoped entry:
//
//	logger := observability.NewLogger("info", observability.FormatJSON, os.Stdout)
//	observability.FromContext(ctx, logger).WithError(err).Warn("session lookup failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveGuard("organization", "forbidden", elapsed)
//
// All Observe* helpers are no-ops on a nil *Metrics so components can run
// without instrumentation in tests.
//
// # Query Sampling
//
// QueryStats keeps the most recent samples (1000 by default) of timed
// database calls and summarizes them:
//
//	err := stats.Track(ctx, "orgs.resolve_membership", func(ctx context.Context) error { ... })
//	summary := stats.Stats("orgs.resolve_membership") // p50, p95, p99, error rate
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
