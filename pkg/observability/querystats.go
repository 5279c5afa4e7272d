package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultQueryStatsCapacity bounds the number of retained samples
	DefaultQueryStatsCapacity = 1000
	// DefaultSlowQueryThreshold is the duration above which a query is logged as slow
	DefaultSlowQueryThreshold = time.Second
)

// QuerySample is one timed database call
type QuerySample struct {
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// QueryStatsSummary aggregates samples for one query name (or all of them)
type QueryStatsSummary struct {
	Count       int           `json:"count"`
	AvgDuration time.Duration `json:"avg_duration"`
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
	ErrorRate   float64       `json:"error_rate"`
}

// QueryStats is a bounded in-memory sampler of query timings. When full,
// the oldest sample is evicted. Each process owns its instance; samples are
// not shared across replicas.
type QueryStats struct {
	mu            sync.Mutex
	samples       []QuerySample
	next          int
	full          bool
	slowThreshold time.Duration
	logger        *logrus.Logger
	metrics       *Metrics
	now           func() time.Time
}

// NewQueryStats creates a sampler. A non-positive capacity or threshold uses the default.
func NewQueryStats(capacity int, slowThreshold time.Duration, logger *logrus.Logger, metrics *Metrics) *QueryStats {
	if capacity <= 0 {
		capacity = DefaultQueryStatsCapacity
	}
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowQueryThreshold
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueryStats{
		samples:       make([]QuerySample, capacity),
		slowThreshold: slowThreshold,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Track runs fn and records its duration and outcome under name.
// fn's error is returned unchanged.
func (q *QueryStats) Track(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if q == nil {
		return fn(ctx)
	}

	start := q.now()
	err := fn(ctx)
	q.Record(name, q.now().Sub(start), err)
	return err
}

// Record stores a sample
func (q *QueryStats) Record(name string, d time.Duration, err error) {
	sample := QuerySample{
		Name:      name,
		Duration:  d,
		Timestamp: q.now(),
	}
	if err != nil {
		sample.Error = err.Error()
	}

	slow := d > q.slowThreshold
	if slow {
		q.logger.WithFields(logrus.Fields{
			"query":       name,
			"duration_ms": d.Milliseconds(),
		}).Warn("slow query detected")
	}
	q.metrics.ObserveQuery(name, d, err, slow)

	q.mu.Lock()
	q.samples[q.next] = sample
	q.next = (q.next + 1) % len(q.samples)
	if q.next == 0 {
		q.full = true
	}
	q.mu.Unlock()
}

// Snapshot returns retained samples oldest first
func (q *QueryStats) Snapshot() []QuerySample {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *QueryStats) snapshotLocked() []QuerySample {
	if !q.full {
		out := make([]QuerySample, q.next)
		copy(out, q.samples[:q.next])
		return out
	}
	out := make([]QuerySample, 0, len(q.samples))
	out = append(out, q.samples[q.next:]...)
	out = append(out, q.samples[:q.next]...)
	return out
}

// SlowQueries returns samples strictly slower than threshold
func (q *QueryStats) SlowQueries(threshold time.Duration) []QuerySample {
	if threshold <= 0 {
		threshold = q.slowThreshold
	}
	var out []QuerySample
	for _, s := range q.Snapshot() {
		if s.Duration > threshold {
			out = append(out, s)
		}
	}
	return out
}

// Stats summarizes samples for name, or all samples when name is empty
func (q *QueryStats) Stats(name string) QueryStatsSummary {
	var selected []QuerySample
	for _, s := range q.Snapshot() {
		if name == "" || s.Name == name {
			selected = append(selected, s)
		}
	}
	return summarize(selected)
}

// ByQuery summarizes samples per query name
func (q *QueryStats) ByQuery() map[string]QueryStatsSummary {
	grouped := make(map[string][]QuerySample)
	for _, s := range q.Snapshot() {
		grouped[s.Name] = append(grouped[s.Name], s)
	}

	out := make(map[string]QueryStatsSummary, len(grouped))
	for name, samples := range grouped {
		out[name] = summarize(samples)
	}
	return out
}

// Reset drops all samples
func (q *QueryStats) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.samples {
		q.samples[i] = QuerySample{}
	}
	q.next = 0
	q.full = false
}

// LogSummary writes one log line per query name
func (q *QueryStats) LogSummary() {
	for name, s := range q.ByQuery() {
		q.logger.WithFields(logrus.Fields{
			"query":      name,
			"count":      s.Count,
			"avg_ms":     s.AvgDuration.Milliseconds(),
			"p95_ms":     s.P95.Milliseconds(),
			"p99_ms":     s.P99.Milliseconds(),
			"error_rate": s.ErrorRate,
		}).Info("query stats")
	}
}

func summarize(samples []QuerySample) QueryStatsSummary {
	if len(samples) == 0 {
		return QueryStatsSummary{}
	}

	durations := make([]time.Duration, len(samples))
	var total time.Duration
	errs := 0
	for i, s := range samples {
		durations[i] = s.Duration
		total += s.Duration
		if s.Error != "" {
			errs++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	return QueryStatsSummary{
		Count:       n,
		AvgDuration: total / time.Duration(n),
		MinDuration: durations[0],
		MaxDuration: durations[n-1],
		P50:         percentile(durations, 0.50),
		P95:         percentile(durations, 0.95),
		P99:         percentile(durations, 0.99),
		ErrorRate:   float64(errs) / float64(n),
	}
}

// percentile uses nearest-rank on sorted input
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
