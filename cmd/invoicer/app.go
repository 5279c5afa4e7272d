package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/invoicer/pkg/api"
	"github.com/platinummonkey/invoicer/pkg/audit"
	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/config"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/orgs"
	"github.com/platinummonkey/invoicer/pkg/procedure"
	"github.com/platinummonkey/invoicer/pkg/rbac"
	"github.com/platinummonkey/invoicer/pkg/storage"
)

const maxBodyBytes = 1 << 20

type app struct {
	apiServer    *http.Server
	healthServer *http.Server
	cron         *cron.Cron
	shutdown     *observability.ShutdownManager
}

type limiters struct {
	api, auth, strict middleware.Limiter
	local             []*middleware.RateLimiter
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create otel instruments: %w", err)
	}

	db, err := storage.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	if err := storage.RunMigrations(ctx, db, logger); err != nil {
		return nil, err
	}

	rdb, err := storage.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	} else {
		logger.Warn("redis not configured; sessions and rate limits are process-local")
	}

	stats := observability.NewQueryStats(cfg.Database.QueryStatsCapacity, cfg.Database.SlowQueryThreshold, logger, metrics)

	orgService := orgs.NewPostgresService(db, orgs.WithQueryStats(stats), orgs.WithLogger(logger))
	sessions := auth.NewSQLSessionStore(db,
		auth.WithCookieName(cfg.Auth.SessionCookieName),
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithSessionQueryStats(stats),
	)

	sessionCache := auth.NewCachedResolver(sessions, rdb, "session", cfg.Auth.SessionCacheTTL, logger, metrics)
	resolvers := []auth.SessionResolver{sessionCache}
	if cfg.Auth.APIKeysEnabled {
		keys := auth.NewAPIKeyStore(db, stats, logger)
		resolvers = append(resolvers, auth.NewCachedResolver(keys, rdb, "apikey", cfg.Auth.SessionCacheTTL, logger, metrics))
	}

	var login *auth.OIDCLogin
	if cfg.Auth.OIDC.Enabled {
		provider, verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDC.IssuerURL, cfg.Auth.OIDC.ClientID)
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, auth.NewCachedResolver(auth.NewOIDCResolver(verifier, sessions), rdb, "oidc", cfg.Auth.SessionCacheTTL, logger, metrics))

		login = auth.NewOIDCLogin(&oauth2.Config{
			ClientID:     cfg.Auth.OIDC.ClientID,
			ClientSecret: cfg.Auth.OIDC.ClientSecret,
			RedirectURL:  cfg.Auth.OIDC.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Auth.OIDC.Scopes,
		}, verifier, sessions, sessionCache, auth.LoginConfig{
			CookieName:        cfg.Auth.SessionCookieName,
			CookieSecure:      cfg.Auth.CookieSecure,
			PostLoginRedirect: cfg.Auth.OIDC.PostLoginRedirect,
			TrustProxy:        cfg.Server.TrustProxy,
		}, logger)
	}

	checker := rbac.NewPermissionChecker(orgService,
		cfg.Permissions.RoleCacheSize, cfg.Permissions.RoleCacheTTL,
		rbac.WithMetrics(metrics), rbac.WithLogger(logger))

	resolver := auth.NewChainResolver(resolvers...)
	pipeline := procedure.NewPipeline(resolver, orgService,
		procedure.WithDemoMode(cfg.Demo.Enabled),
		procedure.WithMetrics(metrics),
		procedure.WithOTelMetrics(otelMetrics),
	)

	lim := newLimiters(cfg.RateLimit, rdb, logger, metrics)

	auditLog := audit.NewMultiLogger(audit.NewDBLogger(db, stats), audit.NewLogrusLogger(logger))
	server, err := api.NewServer(pipeline, checker, orgService, api.NewSQLLedgerStore(db, stats),
		api.WithStrictLimiter(lim.strict),
		api.WithAuditLogger(auditLog),
		api.WithTrustProxy(cfg.Server.TrustProxy),
		api.WithMetrics(metrics),
		api.WithLogger(logger),
		api.WithVersion(version),
		api.WithSessionCookie(cfg.Auth.SessionCookieName),
	)
	if err != nil {
		return nil, err
	}

	router := server.Router()
	health := observability.NewHealthChecker(db, rdb, version)
	observability.RegisterHealthRoutes(router, health)
	if login != nil {
		login.RegisterRoutes(router)
	}
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	handler := buildHandler(router, cfg, resolver, lim, logger, metrics)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "invoicer-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.AddServer(apiServer)

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthRouter,
	}
	shutdown.AddServer(healthServer)

	scheduler, err := scheduleJobs(cfg, lim, sessions, stats, logger)
	if err != nil {
		return nil, err
	}
	shutdown.Register("cron", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	return &app{
		apiServer:    apiServer,
		healthServer: healthServer,
		cron:         scheduler,
		shutdown:     shutdown,
	}, nil
}

func newLimiters(cfg config.RateLimitConfig, rdb *redis.Client, logger *logrus.Logger, metrics *observability.Metrics) limiters {
	var lim limiters
	build := func(name string, w config.WindowConfig) middleware.Limiter {
		rc := middleware.ConfigFromWindow(w)
		if rdb != nil {
			d := middleware.NewDistributedRateLimiter(rdb, name, rc, logger, metrics)
			lim.local = append(lim.local, d.Fallback())
			return d
		}
		l := middleware.NewRateLimiter(rc)
		lim.local = append(lim.local, l)
		return l
	}
	lim.api = build(middleware.LimiterAPI, cfg.API)
	lim.auth = build(middleware.LimiterAuth, cfg.Auth)
	lim.strict = build(middleware.LimiterStrict, cfg.Strict)
	return lim
}

func buildHandler(router http.Handler, cfg *config.Config, resolver auth.SessionResolver, lim limiters, logger *logrus.Logger, metrics *observability.Metrics) http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		middleware.SecurityHeaders,
		httputil.CORSMiddleware(cfg.Server.CORSAllowedOrigins),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	}
	if cfg.RateLimit.Enabled {
		key := middleware.ClientKey(cfg.Server.TrustProxy)
		chain = append(chain,
			auth.IdentifyMiddleware(resolver),
			middleware.NewRateLimitMiddleware(middleware.LimiterAuth, lim.auth, key, metrics).ForPrefix("/api/auth"),
			middleware.NewRateLimitMiddleware(middleware.LimiterAPI, lim.api, key, metrics).ForPrefix(api.RPCPrefix),
		)
	}
	return httputil.Chain(chain...)(router)
}

func scheduleJobs(cfg *config.Config, lim limiters, sessions *auth.SQLSessionStore, stats *observability.QueryStats, logger *logrus.Logger) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.RateLimit.CleanupSchedule, func() {
		removed := 0
		for _, l := range lim.local {
			removed += l.Sweep()
		}
		logger.WithField("removed", removed).Debug("rate limit windows swept")
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule rate limit sweep: %w", err)
	}

	if _, err := c.AddFunc(cfg.Auth.SessionPurgeSchedule, func() {
		defer observability.RecoverPanic(logger, "session purge")
		n, err := sessions.PurgeExpired(context.Background())
		if err != nil {
			logger.WithError(err).Error("failed to purge expired sessions")
			return
		}
		logger.WithField("purged", n).Info("expired sessions purged")
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule session purge: %w", err)
	}

	if _, err := c.AddFunc(cfg.Observability.StatsSummarySchedule, stats.LogSummary); err != nil {
		return nil, fmt.Errorf("failed to schedule query stats summary: %w", err)
	}

	return c, nil
}
