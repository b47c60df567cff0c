package metrics

import (
	"strconv"
	"time"

	"mercator-hq/interpose/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// UpstreamMetrics tracks requests forwarded from decrypted tunnels.
//
// Metrics:
//   - interpose_proxy_upstream_requests_total: Forwarded requests by status class
//   - interpose_proxy_upstream_duration_seconds: Origin round trip time
type UpstreamMetrics struct {
	requestsTotal *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewUpstreamMetrics creates and registers upstream metrics.
func NewUpstreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *UpstreamMetrics {
	um := &UpstreamMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_requests_total",
				Help:      "Total number of requests forwarded to origins",
			},
			[]string{"code"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Origin round trip time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(um.requestsTotal, um.duration)

	return um
}

// Record records one forwarded request.
func (um *UpstreamMetrics) Record(statusCode int, duration time.Duration) {
	um.requestsTotal.WithLabelValues(statusClass(statusCode)).Inc()
	um.duration.Observe(duration.Seconds())
}

// statusClass maps 204 to "2xx" and 0 to "error".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
