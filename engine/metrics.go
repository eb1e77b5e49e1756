package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry,
// so embedding applications keep their own default registry clean.
type Metrics struct {
	registry *prometheus.Registry

	evaluations    prometheus.Counter
	evalDuration   prometheus.Histogram
	hardFailures   prometheus.Counter
	syncCycles     prometheus.Counter
	syncFailures   prometheus.Counter
	syncRecords    prometheus.Gauge
	lastSyncUnix   prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	return &Metrics{
		registry: registry,
		evaluations: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "route_evaluations_total",
			Help: "Total number of route evaluations",
		}),
		evalDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "route_evaluation_duration_seconds",
			Help:    "Time taken to evaluate a route against the active constraint set",
			Buckets: prometheus.DefBuckets,
		}),
		hardFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "route_hard_constraint_failures_total",
			Help: "Total number of evaluations where a hard constraint failed",
		}),
		syncCycles: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "constraint_sync_cycles_total",
			Help: "Total number of completed cache sync cycles",
		}),
		syncFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "constraint_sync_failures_total",
			Help: "Total number of failed cache sync cycles",
		}),
		syncRecords: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "constraint_sync_records",
			Help: "Number of cache records written by the last successful sync",
		}),
		lastSyncUnix: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "constraint_sync_last_timestamp_seconds",
			Help: "Unix time of the last successful sync cycle",
		}),
	}
}

// Handler serves the registry, for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
