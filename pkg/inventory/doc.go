// Package inventory records the certificates Interpose issues and the
// tunnels it serves.
//
// # Records
//
// CertificateRecord captures every leaf the issuer mints: domain, serial,
// SHA-256 fingerprint and validity window. TunnelRecord captures every
// CONNECT from acceptance to close: mode, client address, byte counts,
// decrypted request count and outcome.
//
// # Subpackages
//
//   - storage: memory and SQLite backends implementing Storage
//   - recorder: asynchronous, non-blocking writer used on the hot path
//   - retention: cron-scheduled pruning of old tunnel records
//
// Certificate records are never pruned; there is one per issuance and
// issuance is bounded by the number of distinct domains.
package inventory
