package payments

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrExternalProvider indicates a payment or scheduling provider call
	// failed (network, auth, malformed response).
	ErrExternalProvider = errors.New("external provider error")

	// ErrTimeout indicates an external call exceeded its deadline.
	ErrTimeout = errors.New("external call timed out")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ExternalError carries which provider and operation failed. Resolution
// keeps running past individual strategy failures; this error surfaces
// only when every strategy has been exhausted with at least one failure.
type ExternalError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return ErrExternalProvider
}

// TimeoutError is an ExternalError variant for deadline expiry. Kept
// distinct so callers can tell "provider is slow" from "provider is broken".
type TimeoutError struct {
	Provider string
	Op       string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s: deadline exceeded", e.Provider, e.Op)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// WrapCallError classifies a failed provider call. Deadline expiry becomes
// a TimeoutError, everything else an ExternalError.
func WrapCallError(provider, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Op: op}
	}
	return &ExternalError{Provider: provider, Op: op, Err: err}
}

// IsTimeout reports whether err is a deadline-expiry failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
