package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGuard("authenticate", "ok", time.Millisecond)
		m.ObservePermission("invoices:read", true)
		m.ObserveRateLimited("api")
		m.ObserveFailOpen(ComponentRateLimit)
		m.ObserveCache("session", true)
		m.ObserveQuery("org.membership", time.Millisecond, nil, false)
	})
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveGuard("organization", "forbidden", 2*time.Millisecond)
	m.ObservePermission("invoices:delete", false)
	m.ObserveRateLimited("auth")
	m.ObserveCache("role", false)
	m.ObserveFailOpen(ComponentSessionCache)
	m.ObserveQuery("org.membership", 2*time.Second, errors.New("x"), true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisionsTotal.WithLabelValues("organization", "forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionChecks.WithLabelValues("invoices:delete", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitRejectionsTotal.WithLabelValues("auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailOpenTotal.WithLabelValues(ComponentSessionCache)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FailOpenTotal.WithLabelValues(ComponentRateLimit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBSlowQueriesTotal.WithLabelValues("org.membership")))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	r := mux.NewRouter()
	r.Use(HTTPMetricsMiddleware(m))
	r.HandleFunc("/api/rpc/{router}/{procedure}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})
	RegisterMetricsEndpoint(r, registry)

	req := httptest.NewRequest(http.MethodPost, "/api/rpc/invoices/list", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/rpc/{router}/{procedure}", "418")))

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "invoicer_http_requests_total")
}
