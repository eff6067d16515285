package harness

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors for completed runs.
type Metrics struct {
	// RunsTotal counts finished runs.
	// Labels: outcome (completed, failed)
	RunsTotal *prometheus.CounterVec

	// FailuresTotal counts failed runs.
	// Labels: kind (see orchestrator.ErrorKind)
	FailuresTotal *prometheus.CounterVec

	// RunDuration tracks wall time per run.
	RunDuration prometheus.Histogram

	// RunsInFlight is the number of runs currently executing.
	RunsInFlight prometheus.Gauge
}

// NewMetrics registers run collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "recipeflow",
				Subsystem: "harness",
				Name:      "runs_total",
				Help:      "Total number of finished runs by outcome",
			},
			[]string{"outcome"},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "recipeflow",
				Subsystem: "harness",
				Name:      "failures_total",
				Help:      "Total number of failed runs by failure kind",
			},
			[]string{"kind"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "recipeflow",
				Subsystem: "harness",
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "recipeflow",
				Subsystem: "harness",
				Name:      "runs_in_flight",
				Help:      "Number of runs currently executing",
			},
		),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns collectors registered with the default Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}
