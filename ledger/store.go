/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics. Different
  implementations can use SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): the ONLY write operation
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  The store enforces uniqueness of (source, external_id) where external_id
  is set. A conflicting Append returns ErrDuplicateEntry. This is the
  atomic backstop behind the ledger's check-then-insert: two concurrent
  webhook deliveries for the same session race, and exactly one wins.

FIRST-RUN TOLERANCE:
  Read methods treat a missing underlying table as "zero records" rather
  than failing, so a freshly installed system answers queries before the
  first write ever happens.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists an entry and returns it with its assigned id and
	// creation time. Returns ErrDuplicateEntry if (source, external_id)
	// already exists.
	Append(ctx context.Context, e Entry) (Entry, error)

	// FindByExternalID returns the entry with the given (source, external_id),
	// or nil if none exists.
	FindByExternalID(ctx context.Context, source Source, externalID string) (*Entry, error)

	// Balance returns the sum of deltas for an email. Zero when no entries
	// exist; never an error for an unknown customer.
	Balance(ctx context.Context, email string) (int, error)

	// RecentEntries returns up to limit entries, newest first.
	RecentEntries(ctx context.Context, limit int) ([]Entry, error)

	// Balances returns per-customer balances ordered by balance descending,
	// up to limit rows.
	Balances(ctx context.Context, limit int) ([]BalanceRow, error)

	// ConsumedSince counts consumption entries (delta < 0) for an email from
	// a source other than stripe, created at or after since. Used by booking
	// reconciliation as the ledger-derived usage figure.
	ConsumedSince(ctx context.Context, email string, since time.Time) (int, error)
}
