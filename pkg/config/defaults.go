package config

import "time"

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultProxyMode       = "mitm"
	DefaultHeaderTimeout   = 10 * time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 8192
	DefaultBufferSize      = 32 * 1024

	// CA defaults
	DefaultCACertFile      = "data/ca/ca.pem"
	DefaultCAKeyFile       = "data/ca/ca-key.pem"
	DefaultCACommonName    = "Interpose Root CA"
	DefaultCAOrganization  = "Interpose"
	DefaultCAValidityYears = 10
	DefaultCAOnCorrupt     = "regenerate"
	DefaultCAWatch         = true

	// Issuer defaults
	DefaultIssuerValidityDays = 365
	DefaultIssuerRenewBefore  = 24 * time.Hour

	// Upstream defaults
	DefaultUpstreamTimeout         = 60 * time.Second
	DefaultUpstreamMaxIdleConns    = 100
	DefaultUpstreamIdleConnTimeout = 90 * time.Second

	// Inventory defaults
	DefaultInventoryEnabled       = true
	DefaultInventoryBackend       = "sqlite"
	DefaultInventorySQLitePath    = "data/inventory.db"
	DefaultInventorySQLiteDriver  = "sqlite"
	DefaultInventoryMaxOpenConns  = 4
	DefaultInventoryWALMode       = true
	DefaultInventoryBusyTimeout   = 5 * time.Second
	DefaultInventoryAsyncBuffer   = 1000
	DefaultInventoryWriteTimeout  = 5 * time.Second
	DefaultInventoryRetentionDays = 30
	DefaultInventoryPruneSchedule = "0 3 * * *"

	// Admin defaults
	DefaultAdminEnabled       = true
	DefaultAdminListenAddress = "127.0.0.1:9090"
	DefaultAdminReadTimeout   = 10 * time.Second
	DefaultAdminWriteTimeout  = 10 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsEnabled   = true
	DefaultPrometheusPath   = "/metrics"
	DefaultMetricsNamespace = "interpose"
	DefaultMetricsSubsystem = "proxy"
	DefaultTracingSampler   = "ratio"
	DefaultTracingRatio     = 0.1
	DefaultTracingEndpoint  = "localhost:4317"
	DefaultTracingService   = "interpose"
	DefaultTracingTimeout   = 10 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultCAExpiryWarning  = 30 * 24 * time.Hour
)

// DefaultIssueDurationBuckets are histogram buckets for leaf issuance latency.
var DefaultIssueDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

// DefaultTunnelDurationBuckets are histogram buckets for tunnel lifetimes.
var DefaultTunnelDurationBuckets = []float64{0.1, 1, 5, 30, 60, 300, 1800, 3600}

// NewDefaultConfig returns a configuration with every field set to its default.
func NewDefaultConfig() *Config {
	cfg := newBaseConfig()
	ApplyDefaults(cfg)
	return cfg
}

// newBaseConfig returns a Config carrying the defaults of boolean fields
// whose default is true. ApplyDefaults cannot tell "false" from "unset", so
// YAML is decoded on top of this base instead.
func newBaseConfig() *Config {
	cfg := &Config{}
	cfg.CA.Watch = DefaultCAWatch
	cfg.Inventory.Enabled = DefaultInventoryEnabled
	cfg.Inventory.SQLite.WALMode = DefaultInventoryWALMode
	cfg.Admin.Enabled = DefaultAdminEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	applyProxyDefaults(&cfg.Proxy)
	applyCADefaults(&cfg.CA)
	applyIssuerDefaults(&cfg.Issuer)
	applyUpstreamDefaults(&cfg.Upstream)
	applyInventoryDefaults(&cfg.Inventory)
	applyAdminDefaults(&cfg.Admin)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyProxyDefaults(cfg *ProxyConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.Mode == "" {
		cfg.Mode = DefaultProxyMode
	}
	if cfg.HeaderTimeout == 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
}

func applyCADefaults(cfg *CAConfig) {
	if cfg.CertFile == "" {
		cfg.CertFile = DefaultCACertFile
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = DefaultCAKeyFile
	}
	if cfg.CommonName == "" {
		cfg.CommonName = DefaultCACommonName
	}
	if cfg.Organization == "" {
		cfg.Organization = DefaultCAOrganization
	}
	if cfg.ValidityYears == 0 {
		cfg.ValidityYears = DefaultCAValidityYears
	}
	if cfg.OnCorrupt == "" {
		cfg.OnCorrupt = DefaultCAOnCorrupt
	}
}

func applyIssuerDefaults(cfg *IssuerConfig) {
	if cfg.ValidityDays == 0 {
		cfg.ValidityDays = DefaultIssuerValidityDays
	}
	if cfg.RenewBefore == 0 {
		cfg.RenewBefore = DefaultIssuerRenewBefore
	}
}

func applyUpstreamDefaults(cfg *UpstreamConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultUpstreamTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = DefaultUpstreamMaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = DefaultUpstreamIdleConnTimeout
	}
}

func applyInventoryDefaults(cfg *InventoryConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultInventoryBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultInventorySQLitePath
	}
	if cfg.SQLite.Driver == "" {
		cfg.SQLite.Driver = DefaultInventorySQLiteDriver
	}
	if cfg.SQLite.MaxOpenConns == 0 {
		cfg.SQLite.MaxOpenConns = DefaultInventoryMaxOpenConns
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultInventoryBusyTimeout
	}
	if cfg.AsyncBuffer == 0 {
		cfg.AsyncBuffer = DefaultInventoryAsyncBuffer
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultInventoryWriteTimeout
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultInventoryRetentionDays
	}
	if cfg.Retention.PruneSchedule == "" {
		cfg.Retention.PruneSchedule = DefaultInventoryPruneSchedule
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultAdminListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultAdminReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultAdminWriteTimeout
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Metrics.IssueDurationBuckets) == 0 {
		cfg.Metrics.IssueDurationBuckets = append([]float64(nil), DefaultIssueDurationBuckets...)
	}
	if len(cfg.Metrics.TunnelDurationBuckets) == 0 {
		cfg.Metrics.TunnelDurationBuckets = append([]float64(nil), DefaultTunnelDurationBuckets...)
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 && cfg.Tracing.Sampler == DefaultTracingSampler {
		cfg.Tracing.SampleRatio = DefaultTracingRatio
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthTimeout
	}
	if cfg.Health.CAExpiryWarning == 0 {
		cfg.Health.CAExpiryWarning = DefaultCAExpiryWarning
	}
}
