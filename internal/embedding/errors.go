package embedding

import "errors"

// Provider error taxonomy. Transient errors are retried with backoff;
// permanent errors fail the page; dimension mismatches are fatal and never
// coerced by truncation or padding.
var (
	ErrTransientProvider = errors.New("transient embedding provider error")
	ErrPermanentProvider = errors.New("permanent embedding provider error")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientProvider)
}
