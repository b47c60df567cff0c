// Package config provides configuration management for Interpose.
//
// Configuration is read from a YAML file, completed with defaults, overridden
// by environment variables and validated before use. A missing file is not an
// error for LoadConfigOrDefaults: the proxy runs with defaults only.
//
// # Loading
//
//	cfg, err := config.LoadConfig("interpose.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("interpose.yaml")
//	cfg, err := config.LoadConfigOrDefaults("interpose.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention INTERPOSE_SECTION_FIELD:
//
//   - INTERPOSE_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - INTERPOSE_PROXY_BYPASS_DOMAINS overrides proxy.bypass_domains (comma separated)
//   - INTERPOSE_CA_CERT_FILE overrides ca.cert_file
//   - INTERPOSE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation
//
// Validation errors carry the dotted field path:
//
//	configuration validation failed with 2 errors:
//	  - proxy.mode: mode must be one of: mitm, bypass (got "tap")
//	  - ca.on_corrupt: on_corrupt must be one of: regenerate, fail (got "ignore")
//
// # Example Configuration
//
//	proxy:
//	  listen_address: "127.0.0.1:8080"
//	  mode: "mitm"
//	  bypass_domains: ["*.bank.example"]
//
//	ca:
//	  cert_file: "data/ca/ca.pem"
//	  key_file: "data/ca/ca-key.pem"
//
//	inventory:
//	  backend: "sqlite"
//	  sqlite:
//	    path: "data/inventory.db"
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
package config
