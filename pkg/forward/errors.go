package forward

import "fmt"

// FetchError reports a failed origin request.
type FetchError struct {
	// Host is the origin authority
	Host string

	// Timeout is set when the request ran out of time
	Timeout bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("fetch from %s timed out: %v", e.Host, e.Cause)
	}
	return fmt.Sprintf("fetch from %s failed: %v", e.Host, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *FetchError) Unwrap() error {
	return e.Cause
}
