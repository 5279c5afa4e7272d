package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/invoicer"

// OTelMetrics mirrors the guard metrics as OTel instruments so they reach
// the collector alongside traces.
type OTelMetrics struct {
	guardDecisions metric.Int64Counter
	guardDuration  metric.Float64Histogram
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(meterName))
}

// NewOTelMetricsWithMeter creates instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.guardDecisions, err = meter.Int64Counter(
		"invoicer.guard.decisions",
		metric.WithDescription("Authorization guard outcomes"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard decisions counter: %w", err)
	}

	m.guardDuration, err = meter.Float64Histogram(
		"invoicer.guard.duration",
		metric.WithDescription("Time spent in an authorization guard"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard duration histogram: %w", err)
	}

	return m, nil
}

// RecordGuard records one guard decision. Safe on a nil receiver.
func (m *OTelMetrics) RecordGuard(ctx context.Context, stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.guardDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
	m.guardDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
	))
}
