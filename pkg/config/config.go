package config

import "time"

// Config is the root configuration structure for Interpose.
// It contains all configuration sections for the CONNECT proxy, the root
// certificate authority, leaf issuance, origin forwarding, the certificate
// inventory, the admin server and telemetry.
type Config struct {
	// Proxy contains CONNECT listener configuration including listen address,
	// interception mode and timeouts.
	Proxy ProxyConfig `yaml:"proxy"`

	// CA contains root certificate authority persistence and generation settings.
	CA CAConfig `yaml:"ca"`

	// Issuer contains per-domain leaf certificate settings.
	Issuer IssuerConfig `yaml:"issuer"`

	// Upstream contains configuration for forwarding decrypted requests to
	// the real origin.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Inventory contains configuration for recording issued certificates and
	// tunnel history.
	Inventory InventoryConfig `yaml:"inventory"`

	// Admin contains configuration for the health/metrics HTTP server.
	Admin AdminConfig `yaml:"admin"`

	// Telemetry contains configuration for logging, metrics and health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig contains configuration for the CONNECT frontend.
type ProxyConfig struct {
	// ListenAddress is the address and port for the proxy to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// Mode selects how CONNECT tunnels are served.
	// Options: "mitm" (terminate TLS with a minted certificate),
	// "bypass" (relay the encrypted stream to the origin untouched)
	// Default: "mitm"
	Mode string `yaml:"mode"`

	// BypassDomains lists domains that are always relayed directly, even in
	// mitm mode. Entries are exact names or "*.suffix" patterns.
	BypassDomains []string `yaml:"bypass_domains"`

	// HeaderTimeout bounds how long a client may take to send the CONNECT
	// request head after the connection is accepted.
	// Default: 10s
	HeaderTimeout time.Duration `yaml:"header_timeout"`

	// DialTimeout bounds connecting to the origin in bypass mode.
	// Default: 10s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ShutdownTimeout is the maximum duration to wait for open tunnels to
	// drain during graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of the CONNECT request head.
	// Default: 8192
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// BufferSize is the per-direction relay buffer size in bytes.
	// Default: 32768
	BufferSize int `yaml:"buffer_size"`
}

// CAConfig contains root certificate authority configuration.
type CAConfig struct {
	// CertFile is where the root certificate PEM is persisted.
	// Default: "data/ca/ca.pem"
	CertFile string `yaml:"cert_file"`

	// KeyFile is where the root PKCS#8 private key PEM is persisted.
	// Default: "data/ca/ca-key.pem"
	KeyFile string `yaml:"key_file"`

	// CommonName is the subject CN of a freshly generated root.
	// Default: "Interpose Root CA"
	CommonName string `yaml:"common_name"`

	// Organization is the subject O of a freshly generated root.
	// Default: "Interpose"
	Organization string `yaml:"organization"`

	// ValidityYears is the lifetime of a freshly generated root.
	// Default: 10
	ValidityYears int `yaml:"validity_years"`

	// OnCorrupt decides what happens when the persisted pair exists but
	// cannot be decoded.
	// Options: "regenerate" (warn and mint a new root), "fail"
	// Default: "regenerate"
	OnCorrupt string `yaml:"on_corrupt"`

	// Watch logs a warning when the persisted files change on disk while
	// the proxy is running.
	// Default: true
	Watch bool `yaml:"watch"`
}

// IssuerConfig contains leaf certificate configuration.
type IssuerConfig struct {
	// ValidityDays is the lifetime of issued leaf certificates.
	// Default: 365
	ValidityDays int `yaml:"validity_days"`

	// RenewBefore makes the endpoint cache re-issue a leaf whose expiry is
	// closer than this duration.
	// Default: 24h
	RenewBefore time.Duration `yaml:"renew_before"`
}

// UpstreamConfig contains configuration for the origin fetcher.
type UpstreamConfig struct {
	// Timeout is the maximum duration of a single forwarded request.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// InsecureSkipVerify disables origin certificate verification.
	// Default: false
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// MaxIdleConns is the connection pool size toward origins.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// IdleConnTimeout is how long an idle origin connection is kept.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// InventoryConfig contains configuration for the certificate and tunnel inventory.
type InventoryConfig struct {
	// Enabled controls whether issuances and tunnels are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// AsyncBuffer is the size of the recorder queue. Records are dropped
	// (and counted) when the queue is full.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds a single storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Retention contains tunnel history retention configuration.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains SQLite configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/inventory.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite" (modernc.org/sqlite, pure Go), "sqlite3" (mattn/go-sqlite3, cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains tunnel history retention settings.
type RetentionConfig struct {
	// Days is how long tunnel records are kept. 0 keeps them forever.
	// Default: 30
	Days int `yaml:"days"`

	// PruneSchedule is a cron expression for pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// AdminConfig contains configuration for the admin HTTP server.
type AdminConfig struct {
	// Enabled controls whether the admin server is started.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the admin server address.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout for admin requests.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout for admin responses.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint on the
	// admin server.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "interpose"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "proxy"
	Subsystem string `yaml:"subsystem"`

	// IssueDurationBuckets defines histogram buckets for certificate
	// issuance latency (seconds).
	// Default: [0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1]
	IssueDurationBuckets []float64 `yaml:"issue_duration_buckets"`

	// TunnelDurationBuckets defines histogram buckets for tunnel lifetime
	// (seconds).
	// Default: [0.1, 1, 5, 30, 60, 300, 1800, 3600]
	TunnelDurationBuckets []float64 `yaml:"tunnel_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration. Tunnels,
// certificate issuance and origin fetches are recorded as spans.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of tunnels to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "interpose"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS toward the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// CAExpiryWarning marks the CA check unhealthy when the root expires
	// sooner than this.
	// Default: 720h (30 days)
	CAExpiryWarning time.Duration `yaml:"ca_expiry_warning"`
}
