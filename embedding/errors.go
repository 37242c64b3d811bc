package embedding

import "fmt"

// ServiceError reports a failed or malformed response from the embedding
// backend. StatusCode is zero when the failure happened before a response was
// received (transport error, malformed payload).
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("embedding service error: %s", e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *ServiceError) Unwrap() error { return e.Err }
