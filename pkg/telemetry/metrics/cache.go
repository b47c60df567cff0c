package metrics

import (
	"mercator-hq/interpose/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics tracks the endpoint cache.
//
// Metrics:
//   - interpose_proxy_endpoint_cache_hits_total: Lookups served from cache
//   - interpose_proxy_endpoint_cache_misses_total: Lookups that started an issuance
//   - interpose_proxy_endpoint_cache_coalesced_total: Lookups that waited on an in-flight issuance
//   - interpose_proxy_endpoint_cache_renewals_total: Entries re-issued near expiry
//   - interpose_proxy_endpoint_cache_entries: Current number of cached endpoints
type CacheMetrics struct {
	hitsTotal      prometheus.Counter
	missesTotal    prometheus.Counter
	coalescedTotal prometheus.Counter
	renewalsTotal  prometheus.Counter
	entries        prometheus.Gauge
}

// NewCacheMetrics creates and registers cache metrics.
func NewCacheMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	cm := &CacheMetrics{
		hitsTotal:      counter("endpoint_cache_hits_total", "Total number of endpoint cache hits"),
		missesTotal:    counter("endpoint_cache_misses_total", "Total number of endpoint cache misses"),
		coalescedTotal: counter("endpoint_cache_coalesced_total", "Total number of lookups that joined an in-flight issuance"),
		renewalsTotal:  counter("endpoint_cache_renewals_total", "Total number of endpoints re-issued before expiry"),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "endpoint_cache_entries",
			Help:      "Current number of cached endpoints",
		}),
	}

	registry.MustRegister(cm.hitsTotal, cm.missesTotal, cm.coalescedTotal, cm.renewalsTotal, cm.entries)

	return cm
}

// RecordHit records a cache hit.
func (cm *CacheMetrics) RecordHit() { cm.hitsTotal.Inc() }

// RecordMiss records a cache miss.
func (cm *CacheMetrics) RecordMiss() { cm.missesTotal.Inc() }

// RecordCoalesced records a waiter on an in-flight issuance.
func (cm *CacheMetrics) RecordCoalesced() { cm.coalescedTotal.Inc() }

// RecordRenewal records a near-expiry re-issue.
func (cm *CacheMetrics) RecordRenewal() { cm.renewalsTotal.Inc() }

// UpdateSize sets the entries gauge.
func (cm *CacheMetrics) UpdateSize(size int) {
	cm.entries.Set(float64(size))
}
