package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections prometheus.Gauge
	Dropped     prometheus.Counter
	Frames      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "collab_connections",
			Help: "Number of open client connections",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "collab_connections_dropped_total",
			Help: "Total number of connections dropped because their send queue was full",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_frames_total",
			Help: "Total number of frames by direction and codec",
		}, []string{"direction", "codec"}),
	}
}
