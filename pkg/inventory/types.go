package inventory

import (
	"context"
	"time"
)

// CertificateRecord describes one issued leaf certificate.
type CertificateRecord struct {
	ID          string    `json:"id"`          // UUID v4
	Domain      string    `json:"domain"`      // Certified domain
	Serial      string    `json:"serial"`      // Decimal serial number
	Fingerprint string    `json:"fingerprint"` // Hex SHA-256 of the DER certificate
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	IssuedAt    time.Time `json:"issued_at"`
}

// TunnelRecord describes one CONNECT tunnel from acceptance to close.
type TunnelRecord struct {
	ID         string    `json:"id"`          // Tunnel ID (UUID v4)
	Domain     string    `json:"domain"`      // CONNECT host
	Port       int       `json:"port"`        // CONNECT port
	Mode       string    `json:"mode"`        // "mitm" or "bypass"
	ClientAddr string    `json:"client_addr"` // Remote address of the client
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	BytesUp    int64     `json:"bytes_up"`   // Client to target
	BytesDown  int64     `json:"bytes_down"` // Target to client
	Requests   int64     `json:"requests"`   // Decrypted requests served (mitm only)
	Outcome    string    `json:"outcome"`    // "ok", "error", "cancelled", "rejected"
	Error      string    `json:"error"`      // Error message when the outcome is not ok
}

// Duration returns how long the tunnel was open.
func (r *TunnelRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Tunnel outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// CertificateQuery filters certificate records. Zero fields match everything.
type CertificateQuery struct {
	Domain string
	Serial string

	// IssuedAfter / IssuedBefore bound IssuedAt (inclusive / exclusive)
	IssuedAfter  time.Time
	IssuedBefore time.Time

	// Limit caps the result size; 0 means no limit
	Limit int
}

// TunnelQuery filters tunnel records. Zero fields match everything.
type TunnelQuery struct {
	Domain  string
	Mode    string
	Outcome string

	// StartTime / EndTime bound StartedAt (inclusive / exclusive)
	StartTime time.Time
	EndTime   time.Time

	Limit  int
	Offset int
}

// Storage defines the interface for inventory storage backends.
// Implementations must be thread-safe and support concurrent access.
type Storage interface {
	// StoreCertificate persists a certificate record.
	StoreCertificate(ctx context.Context, record *CertificateRecord) error

	// StoreTunnel persists a tunnel record.
	StoreTunnel(ctx context.Context, record *TunnelRecord) error

	// QueryCertificates returns matching certificates, newest first.
	QueryCertificates(ctx context.Context, query *CertificateQuery) ([]*CertificateRecord, error)

	// QueryTunnels returns matching tunnels, newest first.
	QueryTunnels(ctx context.Context, query *TunnelQuery) ([]*TunnelRecord, error)

	// CountTunnels returns the number of matching tunnels.
	CountTunnels(ctx context.Context, query *TunnelQuery) (int64, error)

	// DeleteTunnels removes matching tunnels and returns how many were
	// removed. Used for retention.
	DeleteTunnels(ctx context.Context, query *TunnelQuery) (int64, error)

	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the storage backend.
	Close() error
}
