/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger error kinds in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; the HTTP layer maps these to
  status codes.

ERROR CATEGORIES:
  1. Validation errors - bad identity, zero delta (client's fault, never retried)
  2. Duplicate - idempotent no-op, NOT a true failure
  3. Storage errors - database-level failures (reported, never swallowed)

SEE ALSO:
  - ledger.go: Produces these errors
  - store/sqlite: Translates driver errors into these kinds
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidIdentity is returned when the customer email is empty or
	// not syntactically valid.
	ErrInvalidIdentity = errors.New("invalid customer email")

	// ErrZeroDelta is returned for a zero credit adjustment. A zero delta
	// would be a no-op row and is always rejected.
	ErrZeroDelta = errors.New("credit delta must be non-zero")

	// ErrDuplicateEntry is returned when an entry with the same
	// (source, external_id) pair already exists. Webhook delivery is
	// at-least-once, so this is expected behavior for retries.
	ErrDuplicateEntry = errors.New("duplicate external transaction")

	// ErrStorage wraps database-level failures on reads or writes.
	ErrStorage = errors.New("ledger storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateEntryError reports which existing entry blocked an append.
type DuplicateEntryError struct {
	Source     Source
	ExternalID string
	ExistingID int64 // 0 when the store detected the conflict itself
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate entry for (%s, %s)", e.Source, e.ExternalID)
}

func (e *DuplicateEntryError) Unwrap() error {
	return ErrDuplicateEntry
}

// ValidationError reports a rejected field with a machine-readable reason.
type ValidationError struct {
	Field  string // "email", "delta"
	Reason string // "invalid_email", "zero_delta"
	err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDuplicate reports whether err is the idempotent no-op case.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsClientError reports whether err is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidIdentity) || errors.Is(err, ErrZeroDelta)
}
