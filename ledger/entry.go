/*
entry.go - Ledger entry types

PURPOSE:
  Defines the LedgerEntry record and its Source enum. An entry is one
  signed credit movement for a customer: positive deltas grant credits,
  negative deltas consume them. The current balance is always the sum
  of deltas - there is no separate "balance" column to drift out of sync.

IMMUTABILITY:
  Entries are created once and never updated or deleted. Corrections
  are made by appending an offsetting entry with the opposite sign.

IDENTITY:
  Customers are keyed by normalized (trimmed, lowercased) email address.
  The same customer may appear under different emails in external
  systems; normalization happens once, at append time.

SEE ALSO:
  - ledger.go: Validating append front-end
  - store.go: Persistence interface
*/
package ledger

import "time"

// Source identifies the origin system of a ledger entry.
type Source string

const (
	// SourceStripe marks entries appended by webhook ingestion. The pair
	// (SourceStripe, ExternalID) is unique: a redelivered webhook for the
	// same checkout session must not produce a second entry.
	SourceStripe Source = "stripe"

	// SourceManual marks administrative adjustments. ExternalID encodes the
	// acting administrator and time for audit traceability; duplicates are
	// permitted since each manual action is deliberate.
	SourceManual Source = "manual"
)

// Entry is one immutable row of the credit ledger.
type Entry struct {
	ID         int64     // assigned by the store at insertion
	Email      string    // normalized customer identity, never empty
	Delta      int       // signed credit change, never zero
	Source     Source    // origin system
	ExternalID string    // origin-system transaction id; empty when unknown
	CreatedAt  time.Time // assigned by the store at insertion
}

// BalanceRow is one line of the administrative balance overview.
type BalanceRow struct {
	Email   string
	Balance int
}
