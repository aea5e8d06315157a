package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the process-wide Prometheus collectors for the connection
// supervisor. One instance is created per server and shared by every
// connection.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	SessionsCompleted prometheus.Counter
	SessionsDropped   prometheus.Counter
	OutboundDrops     prometheus.Counter
	StageLatency      *prometheus.HistogramVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "active_connections",
			Help:      "Number of currently open /ws connections.",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "sessions_completed_total",
			Help:      "Speech sessions that produced a full transcript/response/audio triple.",
		}),
		SessionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "sessions_dropped_total",
			Help:      "Queued speech sessions superseded by a newer session before they could run.",
		}),
		OutboundDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "outbound_queue_drops_total",
			Help:      "Outbound events dropped because a connection's outbound queue was full.",
		}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "pipeline_stage_latency_seconds",
			Help:      "Per-stage adapter call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}
