// Package metrics provides Prometheus metrics collection for Interpose.
//
// # Metrics Categories
//
//   - Tunnel Metrics: open and closed tunnels, lifetime, relayed bytes, refused CONNECTs
//   - Certificate Metrics: leaf issuance count and latency, root expiry
//   - Cache Metrics: endpoint cache hits, misses, coalesced waits, renewals, size
//   - Upstream Metrics: requests forwarded from decrypted tunnels
//   - Inventory Metrics: dropped and failed inventory writes
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	collector.TunnelOpened("mitm")
//	collector.RecordIssue("example.com", nil, 3*time.Millisecond)
//	collector.TunnelClosed("mitm", "ok", time.Minute, 512, 8192)
//
//	mux.Handle("/metrics", collector.Handler())
//
// Every method is a no-op on a nil collector, so components built without
// metrics need no special casing.
package metrics
