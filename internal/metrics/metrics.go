// Package metrics collects service counters and the upstream data-age
// signal, exposed in prometheus format at /metrics.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"
)

// delayWindow bounds the in-memory delay samples used for percentiles.
const delayWindow = 1000

// Metrics owns the prometheus registry and the delay sample window.
// All methods are safe on a nil receiver so wiring stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	FetchSuccess      prometheus.Counter
	FetchErrors       prometheus.Counter
	DataAgeSeconds    prometheus.Gauge
	PrecomputeSeconds prometheus.Histogram
	OverrunSkips      prometheus.Counter
	WriteErrors       prometheus.Counter
	P56Purges         prometheus.Counter

	mu     sync.Mutex
	delays []float64
}

// New constructs a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_fetch_success_total",
			Help: "Successful upstream feed fetches.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_fetch_errors_total",
			Help: "Failed upstream feed fetches (network, status, or parse).",
		}),
		DataAgeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed_data_age_seconds",
			Help: "Age of the upstream data at the last successful fetch.",
		}),
		PrecomputeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "precompute_duration_seconds",
			Help:    "Wall time of one precompute pass.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		OverrunSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "precompute_overrun_skips_total",
			Help: "Ticks whose precompute was skipped because the previous pass was still running.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_write_errors_total",
			Help: "Snapshot or incident writes that failed and were recovered.",
		}),
		P56Purges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p56_history_purges_total",
			Help: "Admin purge operations against the P-56 event log.",
		}),
	}
	m.registry.MustRegister(
		m.FetchSuccess, m.FetchErrors, m.DataAgeSeconds,
		m.PrecomputeSeconds, m.OverrunSkips, m.WriteErrors, m.P56Purges,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFetchSuccess notes a successful fetch and the upstream data age.
func (m *Metrics) RecordFetchSuccess(dataAge time.Duration) {
	if m == nil {
		return
	}
	m.FetchSuccess.Inc()
	if dataAge >= 0 {
		m.DataAgeSeconds.Set(dataAge.Seconds())
		m.mu.Lock()
		m.delays = append(m.delays, dataAge.Seconds())
		if len(m.delays) > delayWindow {
			m.delays = m.delays[len(m.delays)-delayWindow:]
		}
		m.mu.Unlock()
	}
}

// RecordFetchError notes a failed fetch.
func (m *Metrics) RecordFetchError() {
	if m == nil {
		return
	}
	m.FetchErrors.Inc()
}

// RecordPrecompute notes the duration of a completed precompute pass.
func (m *Metrics) RecordPrecompute(d time.Duration) {
	if m == nil {
		return
	}
	m.PrecomputeSeconds.Observe(d.Seconds())
}

// RecordOverrunSkip notes a skipped tick.
func (m *Metrics) RecordOverrunSkip() {
	if m == nil {
		return
	}
	m.OverrunSkips.Inc()
}

// RecordWriteError notes a recovered durability failure.
func (m *Metrics) RecordWriteError() {
	if m == nil {
		return
	}
	m.WriteErrors.Inc()
}

// RecordPurge notes an admin purge.
func (m *Metrics) RecordPurge() {
	if m == nil {
		return
	}
	m.P56Purges.Inc()
}

// DelayQuantiles returns the p50 and p95 of recent data-age samples. ok is
// false until at least one sample exists.
func (m *Metrics) DelayQuantiles() (p50, p95 float64, ok bool) {
	if m == nil {
		return 0, 0, false
	}
	m.mu.Lock()
	samples := make([]float64, len(m.delays))
	copy(samples, m.delays)
	m.mu.Unlock()

	if len(samples) == 0 {
		return 0, 0, false
	}
	sort.Float64s(samples)
	p50 = stat.Quantile(0.5, stat.Empirical, samples, nil)
	p95 = stat.Quantile(0.95, stat.Empirical, samples, nil)
	return p50, p95, true
}
