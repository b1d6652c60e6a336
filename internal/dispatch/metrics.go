package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for expert dispatch.
type Metrics struct {
	DispatchesTotal *prometheus.CounterVec
	RolesTotal      *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

// NewMetrics registers the dispatch metrics once per process.
//
//   - aiteam_dispatch_total{mode}
//   - aiteam_dispatch_roles_total{mode,outcome}
//   - aiteam_dispatch_duration_seconds{mode}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DispatchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiteam_dispatch_total",
					Help: "Total number of dispatch calls",
				},
				[]string{"mode"},
			),
			RolesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiteam_dispatch_roles_total",
					Help: "Total number of expert roles prepared",
				},
				[]string{"mode", "outcome"}, // ok, failed, timeout
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "aiteam_dispatch_duration_seconds",
					Help:    "Duration of dispatch calls in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"mode"},
			),
		}
	})
	return globalMetrics
}
