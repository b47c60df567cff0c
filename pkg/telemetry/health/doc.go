// Package health provides liveness and readiness probes for the admin server.
//
// Endpoints:
//
//   - /health: the process is running
//   - /ready: every registered check passes (root CA validity, inventory storage)
//   - /version: build information
//
// Usage:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("ca", health.CertificateCheck(authority.Certificate, 30*24*time.Hour))
//	checker.RegisterCheck("inventory", health.PingCheck(store))
//	health.Register(mux, checker, version, commit, buildTime)
package health
