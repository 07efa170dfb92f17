package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResyncStale       = "stale"
	ResyncApply       = "apply"
	ResyncPendingFull = "pending_full"
)

type Metrics struct {
	Sessions        prometheus.Gauge
	Clients         prometheus.Gauge
	Commits         prometheus.Counter
	Queued          prometheus.Counter
	Resyncs         *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewMetrics registers the session collectors on reg. Pass a fresh
// prometheus.NewRegistry() when the values are not exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "collab_sessions",
			Help: "Number of live document sessions",
		}),
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Name: "collab_session_clients",
			Help: "Number of connections attached to document sessions",
		}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Name: "collab_commits_total",
			Help: "Total number of operations committed",
		}),
		Queued: f.NewCounter(prometheus.CounterOpts{
			Name: "collab_queued_total",
			Help: "Total number of operations queued for a future version",
		}),
		Resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_resyncs_total",
			Help: "Total number of submissions answered with a resync",
		}, []string{"reason"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "collab_persist_failures_total",
			Help: "Total number of failed content writes",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "collab_persist_duration_seconds",
			Help:    "Duration of content writes",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}
