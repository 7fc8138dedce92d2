/*
Package bookings reconciles a customer's scheduling activity against a
resolved purchase.

PURPOSE:
  After the resolver finds "what did this customer buy", this package
  answers "what have they used since". The external scheduling provider
  (Cal.com) is queried for the customer's bookings; those at or after the
  purchase time count as consumption. The ledger's own consumption records
  take precedence - the provider figure is a cross-check used only when
  the ledger is silent.

IDENTITY NOTE:
  The scheduling identity may differ from the payment identity (customers
  book under a different email than they pay with), so it is accepted as
  a separate parameter throughout.

SEE ALSO:
  - payments/resolver.go: produces the purchase timestamp reconciled against
  - store/sqlite/sqlite.go: persists booking snapshots
*/
package bookings

import (
	"context"
	"time"
)

// ProviderCalCom labels errors and diagnostics from the Cal.com client.
const ProviderCalCom = "calcom"

// Booking is a scheduling event as reported by the provider. Start and
// CreatedAt are pointers because the provider omits either field on some
// booking shapes.
type Booking struct {
	UID       string     `json:"uid"`
	Title     string     `json:"title,omitempty"`
	Status    string     `json:"status"`
	Start     *time.Time `json:"start,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Provider lists a customer's bookings at the scheduling provider.
type Provider interface {
	ListBookings(ctx context.Context, attendeeEmail string) ([]Booking, error)
}

// Snapshot is the persisted form of a booking, kept as a secondary
// consumption source.
type Snapshot struct {
	Email      string
	ExternalID string
	Status     string
	Start      *time.Time
}

// SnapshotStore persists booking snapshots. Implemented by the SQLite
// store; optional - a nil store disables snapshotting.
type SnapshotStore interface {
	SaveBookingSnapshot(ctx context.Context, snap Snapshot) error
	CountBookingsSince(ctx context.Context, email string, since time.Time) (int, error)
}
