package storage

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/interpose/pkg/inventory"
)

// MemoryStorage implements inventory.Storage in memory. Records are lost on
// restart; it backs tests and the "memory" inventory backend.
type MemoryStorage struct {
	mu           sync.RWMutex
	certificates []*inventory.CertificateRecord
	tunnels      map[string]*inventory.TunnelRecord
	closed       bool
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tunnels: make(map[string]*inventory.TunnelRecord),
	}
}

// StoreCertificate persists a certificate record.
func (s *MemoryStorage) StoreCertificate(ctx context.Context, record *inventory.CertificateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return inventory.NewStorageError("memory", "store_certificate", inventory.ErrClosed)
	}

	recordCopy := *record
	s.certificates = append(s.certificates, &recordCopy)
	return nil
}

// StoreTunnel persists a tunnel record.
func (s *MemoryStorage) StoreTunnel(ctx context.Context, record *inventory.TunnelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return inventory.NewStorageError("memory", "store_tunnel", inventory.ErrClosed)
	}

	recordCopy := *record
	s.tunnels[record.ID] = &recordCopy
	return nil
}

// QueryCertificates returns matching certificates, newest first.
func (s *MemoryStorage) QueryCertificates(ctx context.Context, query *inventory.CertificateQuery) ([]*inventory.CertificateRecord, error) {
	if query == nil {
		query = &inventory.CertificateQuery{}
	}

	s.mu.RLock()
	results := []*inventory.CertificateRecord{}
	for _, r := range s.certificates {
		if matchesCertificate(r, query) {
			recordCopy := *r
			results = append(results, &recordCopy)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].IssuedAt.Equal(results[j].IssuedAt) {
			return results[i].IssuedAt.After(results[j].IssuedAt)
		}
		return results[i].ID < results[j].ID
	})
	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// QueryTunnels returns matching tunnels, newest first.
func (s *MemoryStorage) QueryTunnels(ctx context.Context, query *inventory.TunnelQuery) ([]*inventory.TunnelRecord, error) {
	if query == nil {
		query = &inventory.TunnelQuery{}
	}

	s.mu.RLock()
	results := []*inventory.TunnelRecord{}
	for _, r := range s.tunnels {
		if matchesTunnel(r, query) {
			recordCopy := *r
			results = append(results, &recordCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if !results[i].StartedAt.Equal(results[j].StartedAt) {
			return results[i].StartedAt.After(results[j].StartedAt)
		}
		return results[i].ID < results[j].ID
	})

	start := query.Offset
	if start > len(results) {
		return []*inventory.TunnelRecord{}, nil
	}
	results = results[start:]
	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// CountTunnels returns the number of matching tunnels.
func (s *MemoryStorage) CountTunnels(ctx context.Context, query *inventory.TunnelQuery) (int64, error) {
	if query == nil {
		query = &inventory.TunnelQuery{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, r := range s.tunnels {
		if matchesTunnel(r, query) {
			count++
		}
	}
	return count, nil
}

// DeleteTunnels removes matching tunnels and returns how many were removed.
func (s *MemoryStorage) DeleteTunnels(ctx context.Context, query *inventory.TunnelQuery) (int64, error) {
	if query == nil {
		query = &inventory.TunnelQuery{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, r := range s.tunnels {
		if matchesTunnel(r, query) {
			delete(s.tunnels, id)
			count++
		}
	}
	return count, nil
}

// Ping fails once the storage is closed.
func (s *MemoryStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return inventory.NewStorageError("memory", "ping", inventory.ErrClosed)
	}
	return nil
}

// Close marks the storage closed.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func matchesCertificate(r *inventory.CertificateRecord, q *inventory.CertificateQuery) bool {
	if q.Domain != "" && r.Domain != q.Domain {
		return false
	}
	if q.Serial != "" && r.Serial != q.Serial {
		return false
	}
	if !q.IssuedAfter.IsZero() && r.IssuedAt.Before(q.IssuedAfter) {
		return false
	}
	if !q.IssuedBefore.IsZero() && !r.IssuedAt.Before(q.IssuedBefore) {
		return false
	}
	return true
}

func matchesTunnel(r *inventory.TunnelRecord, q *inventory.TunnelQuery) bool {
	if q.Domain != "" && r.Domain != q.Domain {
		return false
	}
	if q.Mode != "" && r.Mode != q.Mode {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if !q.StartTime.IsZero() && r.StartedAt.Before(q.StartTime) {
		return false
	}
	if !q.EndTime.IsZero() && !r.StartedAt.Before(q.EndTime) {
		return false
	}
	return true
}
