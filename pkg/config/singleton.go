package config

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// current is the configuration the running process is using.
var current atomic.Pointer[Config]

// Reload describes a successful ReloadConfig.
type Reload struct {
	// Previous is the configuration replaced, nil on the first load
	Previous *Config

	// Current is the configuration now in use
	Current *Config
}

// ReloadConfig reads path, applies overrides in order and makes the result
// the running configuration if it validates. On error the running
// configuration is kept. The first call loads the initial configuration.
func ReloadConfig(path string, overrides ...func(*Config)) (*Reload, error) {
	cfg, err := LoadConfigOrDefaults(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	if len(overrides) > 0 {
		for _, override := range overrides {
			override(cfg)
		}
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed after overrides: %w", err)
		}
	}
	return &Reload{Previous: current.Swap(cfg), Current: cfg}, nil
}

// Settings a running proxy applies without a restart.
const (
	FieldBypassDomains = "proxy.bypass_domains"
	FieldLoggingLevel  = "telemetry.logging.level"
)

// Applied returns the changed settings that take effect at once.
func (r *Reload) Applied() []string {
	var out []string
	if r.Previous == nil {
		return out
	}
	if !reflect.DeepEqual(r.Previous.Proxy.BypassDomains, r.Current.Proxy.BypassDomains) {
		out = append(out, FieldBypassDomains)
	}
	if r.Previous.Telemetry.Logging.Level != r.Current.Telemetry.Logging.Level {
		out = append(out, FieldLoggingLevel)
	}
	return out
}

// RestartRequired returns the changed sections that only take effect
// after a restart.
func (r *Reload) RestartRequired() []string {
	var out []string
	if r.Previous == nil {
		return out
	}
	prev, next := *r.Previous, *r.Current
	prev.Proxy.BypassDomains, next.Proxy.BypassDomains = nil, nil
	prev.Telemetry.Logging.Level, next.Telemetry.Logging.Level = "", ""

	sections := []struct {
		name       string
		prev, next any
	}{
		{"proxy", prev.Proxy, next.Proxy},
		{"ca", prev.CA, next.CA},
		{"issuer", prev.Issuer, next.Issuer},
		{"upstream", prev.Upstream, next.Upstream},
		{"inventory", prev.Inventory, next.Inventory},
		{"admin", prev.Admin, next.Admin},
		{"telemetry", prev.Telemetry, next.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.next) {
			out = append(out, s.name)
		}
	}
	return out
}
