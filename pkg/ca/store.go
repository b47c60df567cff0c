package ca

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the root certificate and key PEM artifacts.
//
// Load returns an error wrapping fs.ErrNotExist when either artifact is
// absent. Any other error is treated as corrupt material.
type Store interface {
	Load() (certPEM, keyPEM []byte, err error)
	Save(certPEM, keyPEM []byte) error
}

// FileStore keeps the certificate and key in two files.
type FileStore struct {
	CertFile string
	KeyFile  string
}

// NewFileStore returns a FileStore for the given paths.
func NewFileStore(certFile, keyFile string) *FileStore {
	return &FileStore{CertFile: certFile, KeyFile: keyFile}
}

// Load reads both files.
func (s *FileStore) Load() ([]byte, []byte, error) {
	certPEM, err := os.ReadFile(s.CertFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", s.CertFile, err)
	}
	keyPEM, err := os.ReadFile(s.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", s.KeyFile, err)
	}
	return certPEM, keyPEM, nil
}

// Save writes the certificate world-readable and the key owner-only.
// Parent directories are created as needed.
func (s *FileStore) Save(certPEM, keyPEM []byte) error {
	for _, dir := range []string{filepath.Dir(s.CertFile), filepath.Dir(s.KeyFile)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := writeFileAtomic(s.KeyFile, keyPEM, 0600); err != nil {
		return err
	}
	return writeFileAtomic(s.CertFile, certPEM, 0644)
}

// writeFileAtomic writes to a temporary sibling and renames it into place.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// MemoryStore keeps the artifacts in memory. Useful for tests and for
// ephemeral proxies that should not touch disk.
type MemoryStore struct {
	mu      sync.Mutex
	certPEM []byte
	keyPEM  []byte
	saves   int
}

// Load returns the stored artifacts or fs.ErrNotExist.
func (m *MemoryStore) Load() ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.certPEM == nil || m.keyPEM == nil {
		return nil, nil, fmt.Errorf("memory store: %w", fs.ErrNotExist)
	}
	return append([]byte(nil), m.certPEM...), append([]byte(nil), m.keyPEM...), nil
}

// Save replaces the stored artifacts.
func (m *MemoryStore) Save(certPEM, keyPEM []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certPEM = append([]byte(nil), certPEM...)
	m.keyPEM = append([]byte(nil), keyPEM...)
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// isNotExist reports whether err means the material is absent.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
