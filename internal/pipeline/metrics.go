package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for pipeline runs.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunsInFlight   prometheus.Gauge
	RunDuration    prometheus.Histogram
	EventsTotal    *prometheus.CounterVec
	ExpertsPerRun  prometheus.Histogram
	AbandonedTotal prometheus.Counter
}

// NewMetrics registers the pipeline metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiteam_pipeline_runs_total",
					Help: "Total number of pipeline runs by final stage",
				},
				[]string{"status", "stage"},
			),
			RunsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "aiteam_pipeline_runs_in_flight",
				Help: "Number of pipeline runs currently executing",
			}),
			RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "aiteam_pipeline_duration_seconds",
				Help:    "Duration of pipeline runs in seconds",
				Buckets: prometheus.DefBuckets,
			}),
			EventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiteam_pipeline_events_total",
					Help: "Total number of progress events emitted",
				},
				[]string{"type"},
			),
			ExpertsPerRun: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "aiteam_pipeline_experts_per_run",
				Help:    "Number of experts selected per run",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
			}),
			AbandonedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "aiteam_pipeline_abandoned_streams_total",
				Help: "Runs whose client went away before the last event",
			}),
		}
	})
	return globalMetrics
}
