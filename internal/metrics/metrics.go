// Package metrics exposes regeneration run counters as Prometheus metrics.
//
// A batch job has no scrape endpoint, so the registry is written to a
// node_exporter textfile at the end of each run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/velocols/colprofile/internal/models"
)

// Col outcomes used as the "outcome" label.
const (
	OutcomeProcessed = "processed"
	OutcomeCacheHit  = "cache_hit"
	OutcomeErrored   = "errored"
	OutcomeSkipped   = "skipped"
)

// Provider request results used as the "result" label.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Recorder bundles the metrics of one process. All methods are safe on a nil receiver.
type Recorder struct {
	registry *prometheus.Registry

	Cols             *prometheus.CounterVec
	ColErrors        *prometheus.CounterVec
	ColDuration      prometheus.Histogram
	ProviderRequests *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	RateLimitWaits   prometheus.Counter
	RateLimitWaited  prometheus.Histogram
	RunDuration      prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewRecorder registers every metric on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		Cols: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colprofile_cols_total",
			Help: "Cols handled by regeneration runs, labeled by outcome.",
		}, []string{"outcome"}),

		ColErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colprofile_col_errors_total",
			Help: "Failed cols, labeled by error kind.",
		}, []string{"kind"}),

		ColDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "colprofile_col_duration_seconds",
			Help:    "Time spent regenerating one col, including quota waits.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colprofile_provider_requests_total",
			Help: "Elevation provider requests, labeled by result.",
		}, []string{"result"}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "colprofile_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		RateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "colprofile_rate_limit_waits_total",
			Help: "Times a request had to wait for quota.",
		}),

		RateLimitWaited: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "colprofile_rate_limit_wait_seconds",
			Help:    "Length of individual quota waits.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),

		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "colprofile_last_run_duration_seconds",
			Help: "Wall time of the last regeneration run.",
		}),

		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "colprofile_last_run_timestamp_seconds",
			Help: "Unix time the last regeneration run finished.",
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveCol counts a col outcome and, for work actually done, its duration.
func (r *Recorder) ObserveCol(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.Cols.WithLabelValues(outcome).Inc()
	if outcome == OutcomeProcessed || outcome == OutcomeErrored {
		r.ColDuration.Observe(d.Seconds())
	}
}

// ColError counts a failure of the given kind.
func (r *Recorder) ColError(kind models.ErrorKind) {
	if r == nil {
		return
	}
	r.ColErrors.WithLabelValues(string(kind)).Inc()
}

// ProviderRequest counts one provider call by result.
func (r *Recorder) ProviderRequest(result string) {
	if r == nil {
		return
	}
	r.ProviderRequests.WithLabelValues(result).Inc()
}

// SetBreakerState records a breaker transition.
func (r *Recorder) SetBreakerState(name string, state float64) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(name).Set(state)
}

// RateLimitWait records one quota wait.
func (r *Recorder) RateLimitWait(d time.Duration) {
	if r == nil {
		return
	}
	r.RateLimitWaits.Inc()
	r.RateLimitWaited.Observe(d.Seconds())
}

// RunFinished records the run-level gauges.
func (r *Recorder) RunFinished(m *models.RegenerationMetrics, at time.Time) {
	if r == nil || m == nil {
		return
	}
	r.RunDuration.Set(m.TotalTime.Seconds())
	r.LastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format, atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
