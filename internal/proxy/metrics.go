package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons reported in nsredis_proxy_rejected_total.
const (
	reasonDenied      = "denied"
	reasonUnknown     = "unknown_command"
	reasonRateLimited = "rate_limited"
	reasonUnsupported = "unsupported"
	reasonMaxClients  = "max_clients"
	reasonRewrite     = "rewrite_error"
	reasonPubSubMode  = "pubsub_mode"
)

// Metrics are the proxy's Prometheus collectors.
type Metrics struct {
	Commands       *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
	Connections    prometheus.Gauge
	UpstreamErrors prometheus.Counter
	Duration       *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsredis",
			Subsystem: "proxy",
			Name:      "commands_total",
			Help:      "Commands forwarded upstream, by namespacing rule.",
		}, []string{"rule"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nsredis",
			Subsystem: "proxy",
			Name:      "rejected_total",
			Help:      "Commands or connections refused by the proxy, by reason.",
		}, []string{"reason"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nsredis",
			Subsystem: "proxy",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsredis",
			Subsystem: "proxy",
			Name:      "upstream_errors_total",
			Help:      "I/O failures talking to the upstream server.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nsredis",
			Subsystem: "proxy",
			Name:      "command_duration_seconds",
			Help:      "Upstream round trip time of forwarded commands.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"rule"}),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.Rejected, m.Connections, m.UpstreamErrors, m.Duration)
	}
	return m
}
