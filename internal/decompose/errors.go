package decompose

import (
	"errors"
	"fmt"
)

// ErrDecomposition indicates the proposal for a query was unavailable or malformed.
var ErrDecomposition = errors.New("decomposition failed")

// ErrNoDecomposition is returned when a plan is requested before a successful Decompose.
var ErrNoDecomposition = errors.New("no decomposition available")

// DecompositionError describes why a query could not be decomposed.
// It matches ErrDecomposition and the underlying cause with errors.Is.
type DecompositionError struct {
	// Query is the query that was being decomposed.
	Query string
	// Reason is a short description of the failure.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (e *DecompositionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decompose %q: %s: %v", truncate(e.Query, 80), e.Reason, e.Err)
	}
	return fmt.Sprintf("decompose %q: %s", truncate(e.Query, 80), e.Reason)
}

// Unwrap returns ErrDecomposition and the cause.
func (e *DecompositionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecomposition}
	}
	return []error{ErrDecomposition, e.Err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
