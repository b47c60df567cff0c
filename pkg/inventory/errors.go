package inventory

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by a backend used after Close.
var ErrClosed = errors.New("inventory is closed")

// StorageError wraps a backend failure with the backend and the operation
// that failed ("store_tunnel", "query_certificates", ...).
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("inventory %s: %s: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// PruneError reports a failed deletion of tunnel records that ended
// before Cutoff.
type PruneError struct {
	RetentionDays int
	Cutoff        time.Time
	Cause         error
}

func (e *PruneError) Error() string {
	return fmt.Sprintf("prune tunnels older than %d days (before %s): %v",
		e.RetentionDays, e.Cutoff.UTC().Format(time.RFC3339), e.Cause)
}

func (e *PruneError) Unwrap() error {
	return e.Cause
}
