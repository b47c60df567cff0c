// Package ca manages the root certificate authority every intercepted
// connection chains to.
//
// LoadOrCreate reads the persisted PEM pair (CERTIFICATE and PKCS#8
// PRIVATE KEY) from a Store. When the pair is absent it generates a P-256
// self-signed root and persists it. When the pair is present but cannot be
// decoded the configured CorruptPolicy applies: regenerate with a warning,
// or fail with ErrCorruptMaterial.
//
// The returned RootCA is immutable. Watcher only reports on-disk changes;
// it never replaces the root a running process serves.
package ca
