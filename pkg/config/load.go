package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "INTERPOSE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// parseConfig decodes YAML on top of the boolean defaults and fills the
// remaining zero values.
func parseConfig(data []byte) (*Config, error) {
	cfg := newBaseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention INTERPOSE_SECTION_FIELD (e.g., INTERPOSE_PROXY_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadConfigOrDefaults behaves like LoadConfigWithEnvOverrides but starts
// from NewDefaultConfig when the file does not exist. The proxy is usable
// without any configuration file.
func LoadConfigOrDefaults(path string) (*Config, error) {
	_, err := os.Stat(path)
	if err == nil {
		return LoadConfigWithEnvOverrides(path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat configuration file %q: %w", path, err)
	}

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format INTERPOSE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Proxy overrides
	envString("PROXY_LISTEN_ADDRESS", &cfg.Proxy.ListenAddress)
	envString("PROXY_MODE", &cfg.Proxy.Mode)
	if val := os.Getenv(EnvPrefix + "PROXY_BYPASS_DOMAINS"); val != "" {
		cfg.Proxy.BypassDomains = splitList(val)
	}
	envDuration("PROXY_HEADER_TIMEOUT", &cfg.Proxy.HeaderTimeout)
	envDuration("PROXY_DIAL_TIMEOUT", &cfg.Proxy.DialTimeout)
	envDuration("PROXY_SHUTDOWN_TIMEOUT", &cfg.Proxy.ShutdownTimeout)
	envInt("PROXY_BUFFER_SIZE", &cfg.Proxy.BufferSize)

	// CA overrides
	envString("CA_CERT_FILE", &cfg.CA.CertFile)
	envString("CA_KEY_FILE", &cfg.CA.KeyFile)
	envString("CA_COMMON_NAME", &cfg.CA.CommonName)
	envInt("CA_VALIDITY_YEARS", &cfg.CA.ValidityYears)
	envString("CA_ON_CORRUPT", &cfg.CA.OnCorrupt)
	envBool("CA_WATCH", &cfg.CA.Watch)

	// Issuer overrides
	envInt("ISSUER_VALIDITY_DAYS", &cfg.Issuer.ValidityDays)
	envDuration("ISSUER_RENEW_BEFORE", &cfg.Issuer.RenewBefore)

	// Upstream overrides
	envDuration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	envBool("UPSTREAM_INSECURE_SKIP_VERIFY", &cfg.Upstream.InsecureSkipVerify)

	// Inventory overrides
	envBool("INVENTORY_ENABLED", &cfg.Inventory.Enabled)
	envString("INVENTORY_BACKEND", &cfg.Inventory.Backend)
	envString("INVENTORY_SQLITE_PATH", &cfg.Inventory.SQLite.Path)
	envString("INVENTORY_SQLITE_DRIVER", &cfg.Inventory.SQLite.Driver)
	envInt("INVENTORY_RETENTION_DAYS", &cfg.Inventory.Retention.Days)
	envString("INVENTORY_RETENTION_PRUNE_SCHEDULE", &cfg.Inventory.Retention.PruneSchedule)

	// Admin overrides
	envBool("ADMIN_ENABLED", &cfg.Admin.Enabled)
	envString("ADMIN_LISTEN_ADDRESS", &cfg.Admin.ListenAddress)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
