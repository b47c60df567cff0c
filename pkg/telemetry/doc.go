// Package telemetry groups the observability packages used by Interpose.
//
//   - logging: log/slog construction with tunnel context fields
//   - metrics: Prometheus collectors for tunnels, certificates and the endpoint cache
//   - health: liveness and readiness probes for the admin server
package telemetry
