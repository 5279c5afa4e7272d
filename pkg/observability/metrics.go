package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization pipeline metrics
	GuardDecisionsTotal *prometheus.CounterVec
	GuardDuration       *prometheus.HistogramVec
	PermissionChecks    *prometheus.CounterVec

	// Rate limiting
	RateLimitRejectionsTotal *prometheus.CounterVec
	FailOpenTotal            *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration    *prometheus.HistogramVec
	DBSlowQueriesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_guard_decisions_total",
				Help: "Authorization guard outcomes by stage",
			},
			[]string{"stage", "outcome"},
		),
		GuardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_guard_duration_seconds",
				Help:    "Time spent in each authorization guard",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"stage"},
		),
		PermissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_permission_checks_total",
				Help: "Permission checks by permission and result",
			},
			[]string{"permission", "result"},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_ratelimit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"limiter"},
		),
		FailOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_redis_fail_open_total",
				Help: "Redis failures that fell back to a local path, by component",
			},
			[]string{"component"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invoicer_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query", "status"},
		),
		DBSlowQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicer_db_slow_queries_total",
				Help: "Queries slower than the slow-query threshold",
			},
			[]string{"query"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.GuardDecisionsTotal,
		m.GuardDuration,
		m.PermissionChecks,
		m.RateLimitRejectionsTotal,
		m.FailOpenTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBQueryDuration,
		m.DBSlowQueriesTotal,
	)

	return m
}

// ObserveGuard records one guard decision. Safe on a nil receiver.
func (m *Metrics) ObserveGuard(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(stage, outcome).Inc()
	m.GuardDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObservePermission records a permission check result
func (m *Metrics) ObservePermission(permission string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecks.WithLabelValues(permission, result).Inc()
}

// ObserveRateLimited records a rejected request
func (m *Metrics) ObserveRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(limiter).Inc()
}

// Components that fall back when Redis fails
const (
	ComponentRateLimit    = "ratelimit"
	ComponentSessionCache = "session_cache"
)

// ObserveFailOpen records a Redis failure that component worked around
func (m *Metrics) ObserveFailOpen(component string) {
	if m == nil {
		return
	}
	m.FailOpenTotal.WithLabelValues(component).Inc()
}

// ObserveCache records a cache lookup
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// ObserveQuery records a database query duration
func (m *Metrics) ObserveQuery(query string, d time.Duration, err error, slow bool) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DBQueryDuration.WithLabelValues(query, status).Observe(d.Seconds())
	if slow {
		m.DBSlowQueriesTotal.WithLabelValues(query).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(r *mux.Router, registry *prometheus.Registry) {
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
