package metrics

import (
	"time"

	"mercator-hq/interpose/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// TunnelMetrics tracks CONNECT tunnels.
//
// Metrics:
//   - interpose_proxy_tunnels_total: Closed tunnels by mode and outcome
//   - interpose_proxy_tunnels_active: Open tunnels by mode
//   - interpose_proxy_tunnel_duration_seconds: Tunnel lifetime
//   - interpose_proxy_tunnel_bytes_total: Relayed bytes by direction
//   - interpose_proxy_connect_rejected_total: Refused CONNECTs by reason
type TunnelMetrics struct {
	total    *prometheus.CounterVec
	active   *prometheus.GaugeVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewTunnelMetrics creates and registers tunnel metrics.
func NewTunnelMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TunnelMetrics {
	tm := &TunnelMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tunnels_total",
				Help:      "Total number of closed tunnels",
			},
			[]string{"mode", "outcome"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tunnels_active",
				Help:      "Number of open tunnels",
			},
			[]string{"mode"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tunnel_duration_seconds",
				Help:      "Tunnel lifetime in seconds",
				Buckets:   cfg.TunnelDurationBuckets,
			},
			[]string{"mode"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tunnel_bytes_total",
				Help:      "Total bytes relayed through tunnels",
			},
			[]string{"direction"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "connect_rejected_total",
				Help:      "Total number of CONNECT requests answered with an error",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(tm.total, tm.active, tm.duration, tm.bytes, tm.rejected)

	return tm
}

// Opened increments the active gauge.
func (tm *TunnelMetrics) Opened(mode string) {
	tm.active.WithLabelValues(mode).Inc()
}

// Closed records a finished tunnel and decrements the active gauge.
func (tm *TunnelMetrics) Closed(mode, outcome string, duration time.Duration, up, down int64) {
	tm.active.WithLabelValues(mode).Dec()
	tm.total.WithLabelValues(mode, outcome).Inc()
	tm.duration.WithLabelValues(mode).Observe(duration.Seconds())
	tm.bytes.WithLabelValues("up").Add(float64(up))
	tm.bytes.WithLabelValues("down").Add(float64(down))
}

// Rejected records a refused CONNECT.
func (tm *TunnelMetrics) Rejected(reason string) {
	tm.rejected.WithLabelValues(reason).Inc()
}
