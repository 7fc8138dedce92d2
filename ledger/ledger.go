/*
ledger.go - Append-only credit ledger

PURPOSE:
  The Ledger is the immutable source of truth for customer credit
  balances. Every purchase, consumption, and manual correction is
  recorded here. Balance is always computed by summing deltas.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IDEMPOTENT: Same (source=stripe, external_id) = one entry, no duplicates
  3. NON-ZERO: A zero delta is rejected before it reaches storage
  4. NORMALIZED: Identities are trimmed and lowercased before any use

WHY APPEND-ONLY?
  - Audit trail: you can always explain how a balance got to its value
  - Correctness: no risk of partial updates corrupting state
  - Corrections are offsetting entries, so history is preserved

EXAMPLE FLOW:
  1. Customer buys a 4-Pack: +4 (source=stripe, external_id=cs_...)
  2. Takes two lessons:       -1, -1 (source=manual or booking sync)
  3. Webhook redelivered:     no-op, duplicate reported, balance still 2

SEE ALSO:
  - store.go: Low-level persistence interface
  - ingest: The only external write path into the ledger
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// =============================================================================
// LEDGER - Validating front-end over a Store
// =============================================================================

// Ledger validates and appends credit entries. All writes from ingestion
// and administrative adjustment go through AppendEntry.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// AppendEntry validates, normalizes, and persists one credit movement.
// For source=stripe the (source, externalID) pair is checked first so a
// redelivered webhook returns a DuplicateEntryError naming the existing
// entry; the store's uniqueness constraint closes the residual race.
func (l *Ledger) AppendEntry(ctx context.Context, email string, delta int, source Source, externalID string) (Entry, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Entry{}, err
	}
	if delta == 0 {
		return Entry{}, &ValidationError{Field: "delta", Reason: "zero_delta", err: ErrZeroDelta}
	}

	if source == SourceStripe && externalID != "" {
		existing, err := l.store.FindByExternalID(ctx, source, externalID)
		if err != nil {
			return Entry{}, fmt.Errorf("duplicate check: %w", err)
		}
		if existing != nil {
			return *existing, &DuplicateEntryError{
				Source:     source,
				ExternalID: externalID,
				ExistingID: existing.ID,
			}
		}
	}

	entry, err := l.store.Append(ctx, Entry{
		Email:      normalized,
		Delta:      delta,
		Source:     source,
		ExternalID: externalID,
	})
	if IsDuplicate(err) {
		// Lost the race against a concurrent append of the same transaction.
		return Entry{}, &DuplicateEntryError{Source: source, ExternalID: externalID}
	}
	return entry, err
}

// Balance returns the current credit balance for a customer.
// Zero for unknown customers, never an error for "no entries".
func (l *Ledger) Balance(ctx context.Context, email string) (int, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return 0, err
	}
	return l.store.Balance(ctx, normalized)
}

// RecentEntries returns the newest entries for administrative review.
func (l *Ledger) RecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	return l.store.RecentEntries(ctx, limit)
}

// Balances returns per-customer balances for administrative review.
func (l *Ledger) Balances(ctx context.Context, limit int) ([]BalanceRow, error) {
	return l.store.Balances(ctx, limit)
}

// ConsumedSince counts non-stripe consumption entries at or after since.
func (l *Ledger) ConsumedSince(ctx context.Context, email string, since time.Time) (int, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return 0, err
	}
	return l.store.ConsumedSince(ctx, normalized, since)
}

// =============================================================================
// IDENTITY AND AUDIT HELPERS
// =============================================================================

// NormalizeEmail trims, lowercases, and validates a customer identity.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", &ValidationError{Field: "email", Reason: "email_required", err: ErrInvalidIdentity}
	}
	if err := validate.Var(normalized, "email"); err != nil {
		return "", &ValidationError{Field: "email", Reason: "invalid_email", err: ErrInvalidIdentity}
	}
	return normalized, nil
}

// ManualExternalID builds the audit external id for a manual adjustment.
// It encodes the acting administrator and time plus a random fragment, for
// traceability rather than uniqueness enforcement.
func ManualExternalID(actor string, at time.Time) string {
	if actor == "" {
		actor = "admin"
	}
	return fmt.Sprintf("admin_%s_%d_%s", actor, at.Unix(), uuid.NewString()[:8])
}
