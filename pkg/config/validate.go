package config

import (
	"fmt"
	"net"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "proxy.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateCA(&cfg.CA)...)
	errs = append(errs, validateIssuer(&cfg.Issuer)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateInventory(&cfg.Inventory)...)
	errs = append(errs, validateAdmin(&cfg.Admin)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateProxy validates CONNECT frontend configuration.
func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "proxy.listen_address",
			Message: fmt.Sprintf("invalid listen address: %v", err),
		})
	}

	switch cfg.Mode {
	case "mitm", "bypass":
	default:
		errs = append(errs, FieldError{
			Field:   "proxy.mode",
			Message: fmt.Sprintf("mode must be one of: mitm, bypass (got %q)", cfg.Mode),
		})
	}

	for i, d := range cfg.BypassDomains {
		if strings.TrimSpace(d) == "" || strings.Contains(d, ":") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("proxy.bypass_domains[%d]", i),
				Message: "bypass entry must be a host name or *.suffix pattern",
			})
		}
	}

	if cfg.HeaderTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.header_timeout",
			Message: "header timeout must be positive",
		})
	}
	if cfg.DialTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.dial_timeout",
			Message: "dial timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "proxy.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 64 {
		errs = append(errs, FieldError{
			Field:   "proxy.max_header_bytes",
			Message: "max header bytes must be at least 64",
		})
	}
	if cfg.BufferSize < 512 {
		errs = append(errs, FieldError{
			Field:   "proxy.buffer_size",
			Message: "buffer size must be at least 512 bytes",
		})
	}

	return errs
}

// validateCA validates root certificate authority configuration.
func validateCA(cfg *CAConfig) []FieldError {
	var errs []FieldError

	if cfg.CertFile == "" {
		errs = append(errs, FieldError{Field: "ca.cert_file", Message: "certificate path is required"})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{Field: "ca.key_file", Message: "key path is required"})
	}
	if cfg.CertFile != "" && cfg.CertFile == cfg.KeyFile {
		errs = append(errs, FieldError{Field: "ca.key_file", Message: "key path must differ from certificate path"})
	}
	if cfg.CommonName == "" {
		errs = append(errs, FieldError{Field: "ca.common_name", Message: "common name is required"})
	}
	if cfg.ValidityYears < 1 || cfg.ValidityYears > 30 {
		errs = append(errs, FieldError{Field: "ca.validity_years", Message: "validity must be between 1 and 30 years"})
	}
	switch cfg.OnCorrupt {
	case "regenerate", "fail":
	default:
		errs = append(errs, FieldError{
			Field:   "ca.on_corrupt",
			Message: fmt.Sprintf("on_corrupt must be one of: regenerate, fail (got %q)", cfg.OnCorrupt),
		})
	}

	return errs
}

// validateIssuer validates leaf issuance configuration.
func validateIssuer(cfg *IssuerConfig) []FieldError {
	var errs []FieldError

	if cfg.ValidityDays < 1 || cfg.ValidityDays > 825 {
		errs = append(errs, FieldError{Field: "issuer.validity_days", Message: "validity must be between 1 and 825 days"})
	}
	if cfg.RenewBefore < 0 {
		errs = append(errs, FieldError{Field: "issuer.renew_before", Message: "renew_before must be positive"})
	}

	return errs
}

// validateUpstream validates origin fetcher configuration.
func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.timeout", Message: "timeout must be positive"})
	}
	if cfg.MaxIdleConns < 0 {
		errs = append(errs, FieldError{Field: "upstream.max_idle_conns", Message: "max idle conns must be non-negative"})
	}

	return errs
}

// validateInventory validates inventory configuration.
func validateInventory(cfg *InventoryConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "inventory.sqlite.path", Message: "path is required for sqlite backend"})
		}
		switch cfg.SQLite.Driver {
		case "sqlite", "sqlite3":
		default:
			errs = append(errs, FieldError{
				Field:   "inventory.sqlite.driver",
				Message: fmt.Sprintf("driver must be one of: sqlite, sqlite3 (got %q)", cfg.SQLite.Driver),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "inventory.backend",
			Message: fmt.Sprintf("backend must be one of: sqlite, memory (got %q)", cfg.Backend),
		})
	}

	if cfg.AsyncBuffer < 0 {
		errs = append(errs, FieldError{Field: "inventory.async_buffer", Message: "async buffer must be non-negative"})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "inventory.retention.days", Message: "retention days must be non-negative"})
	}

	return errs
}

// validateAdmin validates admin server configuration.
func validateAdmin(cfg *AdminConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "admin.listen_address",
			Message: fmt.Sprintf("invalid listen address: %v", err),
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("format must be one of: json, text (got %q)", cfg.Logging.Format),
		})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("sampler must be one of: always, never, ratio (got %q)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0.0 and 1.0",
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	return errs
}
