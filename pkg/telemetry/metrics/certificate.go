package metrics

import (
	"time"

	"mercator-hq/interpose/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CertificateMetrics tracks leaf issuance and the root's lifetime.
//
// Metrics:
//   - interpose_proxy_certificates_issued_total: Issuance attempts by domain and status
//   - interpose_proxy_certificate_issue_duration_seconds: Key generation plus signing time
//   - interpose_proxy_ca_expiry_timestamp_seconds: Root NotAfter as a Unix timestamp
type CertificateMetrics struct {
	issuedTotal   *prometheus.CounterVec
	issueDuration prometheus.Histogram
	caExpiry      prometheus.Gauge
}

// NewCertificateMetrics creates and registers certificate metrics.
func NewCertificateMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CertificateMetrics {
	cm := &CertificateMetrics{
		issuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "certificates_issued_total",
				Help:      "Total number of leaf issuance attempts",
			},
			[]string{"domain", "status"},
		),
		issueDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "certificate_issue_duration_seconds",
				Help:      "Leaf issuance latency in seconds",
				Buckets:   cfg.IssueDurationBuckets,
			},
		),
		caExpiry: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ca_expiry_timestamp_seconds",
				Help:      "Root certificate NotAfter as a Unix timestamp",
			},
		),
	}

	registry.MustRegister(cm.issuedTotal, cm.issueDuration, cm.caExpiry)

	return cm
}

// RecordIssue records one issuance attempt.
func (cm *CertificateMetrics) RecordIssue(domain, status string, duration time.Duration) {
	cm.issuedTotal.WithLabelValues(domain, status).Inc()
	cm.issueDuration.Observe(duration.Seconds())
}

// SetCAExpiry sets the root expiry gauge.
func (cm *CertificateMetrics) SetCAExpiry(notAfter time.Time) {
	cm.caExpiry.Set(float64(notAfter.Unix()))
}
