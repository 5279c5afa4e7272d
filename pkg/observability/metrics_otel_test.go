package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetrics_RecordGuard(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordGuard(context.Background(), "authenticate", "unauthorized", 3*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := make([]string, 0)
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		names = append(names, metric.Name)
	}
	assert.ElementsMatch(t, []string{"invoicer.guard.decisions", "invoicer.guard.duration"}, names)
}

func TestOTelMetrics_NilReceiver(t *testing.T) {
	var m *OTelMetrics
	assert.NotPanics(t, func() {
		m.RecordGuard(context.Background(), "role", "ok", time.Millisecond)
	})
}
