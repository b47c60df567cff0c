package endpoint

import (
	"crypto/tls"
	"sort"
	"sync"
	"time"

	"mercator-hq/interpose/pkg/issuer"
)

// Endpoint is the termination point for one domain. It holds the domain's
// leaf certificate and the set of tunnels currently using it.
type Endpoint struct {
	// Domain is the normalized domain the endpoint serves.
	Domain string

	// CreatedAt is when the endpoint was created.
	CreatedAt time.Time

	cert *issuer.DomainCertificate

	// mu protects tunnels and total
	mu      sync.Mutex
	tunnels map[string]time.Time
	total   int64
}

func newEndpoint(cert *issuer.DomainCertificate, now time.Time) *Endpoint {
	return &Endpoint{
		Domain:    cert.Domain,
		CreatedAt: now,
		cert:      cert,
		tunnels:   make(map[string]time.Time),
	}
}

// Certificate returns the endpoint's leaf.
func (e *Endpoint) Certificate() *issuer.DomainCertificate {
	return e.cert
}

// TLSCertificate returns the leaf chain for a TLS handshake.
func (e *Endpoint) TLSCertificate() *tls.Certificate {
	return e.cert.TLSCertificate()
}

// NotAfter returns the leaf expiry.
func (e *Endpoint) NotAfter() time.Time {
	return e.cert.Certificate.NotAfter
}

// Attach registers an active tunnel and returns the function that releases
// it. Release is idempotent.
func (e *Endpoint) Attach(tunnelID string) (release func()) {
	e.mu.Lock()
	e.tunnels[tunnelID] = time.Now()
	e.total++
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.tunnels, tunnelID)
			e.mu.Unlock()
		})
	}
}

// ActiveTunnels returns the number of tunnels attached right now.
func (e *Endpoint) ActiveTunnels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tunnels)
}

// TunnelIDs returns the attached tunnel IDs, oldest first.
func (e *Endpoint) TunnelIDs() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.tunnels))
	for id := range e.tunnels {
		ids = append(ids, id)
	}
	started := make(map[string]time.Time, len(e.tunnels))
	for id, t := range e.tunnels {
		started[id] = t
	}
	e.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool {
		if started[ids[i]].Equal(started[ids[j]]) {
			return ids[i] < ids[j]
		}
		return started[ids[i]].Before(started[ids[j]])
	})
	return ids
}

// Snapshot is a point-in-time view of an endpoint for reporting.
type Snapshot struct {
	Domain        string    `json:"domain"`
	Serial        string    `json:"serial"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	CreatedAt     time.Time `json:"created_at"`
	ActiveTunnels int       `json:"active_tunnels"`
	TotalTunnels  int64     `json:"total_tunnels"`
}

// Snapshot returns the endpoint's current state.
func (e *Endpoint) Snapshot() Snapshot {
	e.mu.Lock()
	active, total := len(e.tunnels), e.total
	e.mu.Unlock()

	return Snapshot{
		Domain:        e.Domain,
		Serial:        e.cert.Serial(),
		NotBefore:     e.cert.Certificate.NotBefore,
		NotAfter:      e.cert.Certificate.NotAfter,
		CreatedAt:     e.CreatedAt,
		ActiveTunnels: active,
		TotalTunnels:  total,
	}
}
