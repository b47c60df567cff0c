package metrics

import (
	"sync"
	"time"

	"mercator-hq/interpose/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultDomainCardinality bounds the number of distinct domain label values.
const DefaultDomainCardinality = 1000

// Collector owns every Prometheus metric exported by the proxy.
//
// All methods are safe on a nil *Collector and on a collector whose config
// has metrics disabled, so components can record unconditionally.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	tunnelMetrics    *TunnelMetrics
	certMetrics      *CertificateMetrics
	cacheMetrics     *CacheMetrics
	upstreamMetrics  *UpstreamMetrics
	inventoryMetrics *InventoryMetrics

	// domainLimiter caps the per-domain issuance label.
	domainLimiter *CardinalityLimiter
}

// NewCollector creates a collector registered on registry. A nil registry
// gets a fresh prometheus.Registry.
//
// Example:
//
//	cfg := config.NewDefaultConfig().Telemetry.Metrics
//	collector := metrics.NewCollector(&cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.IssueDurationBuckets) == 0 {
		cfg.IssueDurationBuckets = config.DefaultIssueDurationBuckets
	}
	if len(cfg.TunnelDurationBuckets) == 0 {
		cfg.TunnelDurationBuckets = config.DefaultTunnelDurationBuckets
	}

	return &Collector{
		config:           cfg,
		registry:         registry,
		tunnelMetrics:    NewTunnelMetrics(cfg, registry),
		certMetrics:      NewCertificateMetrics(cfg, registry),
		cacheMetrics:     NewCacheMetrics(cfg, registry),
		upstreamMetrics:  NewUpstreamMetrics(cfg, registry),
		inventoryMetrics: NewInventoryMetrics(cfg, registry),
		domainLimiter:    NewCardinalityLimiter(DefaultDomainCardinality),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// TunnelOpened records a tunnel that passed the CONNECT handshake.
func (c *Collector) TunnelOpened(mode string) {
	if !c.enabled() {
		return
	}
	c.tunnelMetrics.Opened(mode)
}

// TunnelClosed records the end of a tunnel.
//
// Parameters:
//   - mode: "mitm" or "bypass"
//   - outcome: "ok", "error", "cancelled"
//   - duration: time since the CONNECT was accepted
//   - up, down: bytes relayed client to server and server to client
func (c *Collector) TunnelClosed(mode, outcome string, duration time.Duration, up, down int64) {
	if !c.enabled() {
		return
	}
	c.tunnelMetrics.Closed(mode, outcome, duration, up, down)
}

// RecordConnectRejected records a CONNECT answered with an error status.
//
// Parameters:
//   - reason: "bad_request", "bad_gateway", "header_timeout"
func (c *Collector) RecordConnectRejected(reason string) {
	if !c.enabled() {
		return
	}
	c.tunnelMetrics.Rejected(reason)
}

// RecordIssue records a leaf issuance attempt.
func (c *Collector) RecordIssue(domain string, err error, duration time.Duration) {
	if !c.enabled() {
		return
	}
	if !c.domainLimiter.Allow(domain) {
		domain = "other"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.certMetrics.RecordIssue(domain, status, duration)
}

// SetCAExpiry publishes the root certificate's NotAfter.
func (c *Collector) SetCAExpiry(notAfter time.Time) {
	if !c.enabled() {
		return
	}
	c.certMetrics.SetCAExpiry(notAfter)
}

// RecordCacheHit records an endpoint served from cache.
func (c *Collector) RecordCacheHit() {
	if !c.enabled() {
		return
	}
	c.cacheMetrics.RecordHit()
}

// RecordCacheMiss records a lookup that started an issuance.
func (c *Collector) RecordCacheMiss() {
	if !c.enabled() {
		return
	}
	c.cacheMetrics.RecordMiss()
}

// RecordCacheCoalesced records a lookup that joined an in-flight issuance.
func (c *Collector) RecordCacheCoalesced() {
	if !c.enabled() {
		return
	}
	c.cacheMetrics.RecordCoalesced()
}

// RecordCacheRenewal records an entry re-issued because it neared expiry.
func (c *Collector) RecordCacheRenewal() {
	if !c.enabled() {
		return
	}
	c.cacheMetrics.RecordRenewal()
}

// UpdateCacheSize sets the number of cached endpoints.
func (c *Collector) UpdateCacheSize(size int) {
	if !c.enabled() {
		return
	}
	c.cacheMetrics.UpdateSize(size)
}

// RecordUpstream records one forwarded request. statusCode is 0 when the
// origin could not be reached.
func (c *Collector) RecordUpstream(statusCode int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.upstreamMetrics.Record(statusCode, duration)
}

// RecordInventoryDrop records an inventory record dropped on a full queue.
func (c *Collector) RecordInventoryDrop(kind string) {
	if !c.enabled() {
		return
	}
	c.inventoryMetrics.RecordDrop(kind)
}

// RecordInventoryError records a failed inventory write.
func (c *Collector) RecordInventoryError(kind string) {
	if !c.enabled() {
		return
	}
	c.inventoryMetrics.RecordError(kind)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter bounds the number of unique values a label may take.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
