package bookings

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brighttails/credit-engine/ledger"
)

// dateExtractor pulls a usable timestamp from a booking. Extractors run
// in order; the first non-nil value wins.
type dateExtractor func(Booking) *time.Time

var dateExtractors = []dateExtractor{
	func(b Booking) *time.Time { return b.Start },
	func(b Booking) *time.Time { return b.CreatedAt },
}

// bookingTime returns the booking's effective timestamp, or nil when the
// provider supplied neither a start nor a creation time.
func bookingTime(b Booking) *time.Time {
	for _, extract := range dateExtractors {
		if t := extract(b); t != nil {
			return t
		}
	}
	return nil
}

// Reconciliation is the usage picture since a purchase.
type Reconciliation struct {
	// Bookings that fall at or after the purchase time.
	SincePurchase []Booking

	// ProviderCount is len(SincePurchase); kept separate because it is
	// reported even when the booking list is elided from a response.
	ProviderCount int

	// LedgerCount is the consumption recorded in the ledger over the
	// same window.
	LedgerCount int

	// Consumed is the reported figure: the ledger count, unless the
	// ledger is silent and the provider saw usage.
	Consumed int

	// Anomalies counts bookings excluded for having no usable timestamp.
	Anomalies int

	// FromSnapshot marks a count served from stored booking snapshots
	// because the live provider was unreachable. Snapshot counts carry
	// no booking list and no anomaly figure.
	FromSnapshot bool

	// ProviderError holds the provider failure that forced the
	// snapshot fallback.
	ProviderError string
}

// Reconciler cross-references provider bookings with ledger consumption.
type Reconciler struct {
	provider  Provider
	ledger    *ledger.Ledger
	snapshots SnapshotStore
	log       *logrus.Logger
}

// NewReconciler builds a reconciler. snapshots may be nil to disable
// persisting booking snapshots.
func NewReconciler(provider Provider, led *ledger.Ledger, snapshots SnapshotStore, log *logrus.Logger) *Reconciler {
	return &Reconciler{provider: provider, ledger: led, snapshots: snapshots, log: log}
}

// Reconcile lists the scheduling identity's bookings and derives the
// consumption figure since purchasedAt. The lower bound is inclusive: a
// booking starting exactly at the purchase instant counts.
//
// The ledger is authoritative: its consumption count is reported unless
// it recorded nothing while the provider saw usage, in which case the
// provider count stands in. Both figures are returned so callers can
// surface the discrepancy.
//
// When the provider cannot be reached, previously stored booking
// snapshots stand in for the live list; the result is marked FromSnapshot
// and carries the provider failure.
func (r *Reconciler) Reconcile(ctx context.Context, schedulingEmail, paymentEmail string, purchasedAt time.Time) (*Reconciliation, error) {
	bookings, err := r.provider.ListBookings(ctx, schedulingEmail)
	if err != nil {
		return r.reconcileFromSnapshots(ctx, schedulingEmail, paymentEmail, purchasedAt, err)
	}

	rec := &Reconciliation{}
	for _, b := range bookings {
		t := bookingTime(b)
		if t == nil {
			rec.Anomalies++
			r.log.WithFields(logrus.Fields{
				"booking_uid": b.UID,
				"email":       schedulingEmail,
			}).Warn("booking has no start or creation time, excluding")
			continue
		}
		if t.Before(purchasedAt) {
			continue
		}
		rec.SincePurchase = append(rec.SincePurchase, b)

		if r.snapshots != nil {
			snap := Snapshot{
				Email:      schedulingEmail,
				ExternalID: b.UID,
				Status:     b.Status,
				Start:      b.Start,
			}
			if err := r.snapshots.SaveBookingSnapshot(ctx, snap); err != nil {
				r.log.WithError(err).WithField("booking_uid", b.UID).
					Warn("failed to persist booking snapshot")
			}
		}
	}
	rec.ProviderCount = len(rec.SincePurchase)

	ledgerCount, err := r.ledger.ConsumedSince(ctx, paymentEmail, purchasedAt)
	if err != nil {
		return nil, err
	}
	rec.LedgerCount = ledgerCount

	rec.Consumed = ledgerCount
	if ledgerCount == 0 && rec.ProviderCount > 0 {
		rec.Consumed = rec.ProviderCount
	}
	return rec, nil
}

// reconcileFromSnapshots serves the usage picture from previously stored
// booking snapshots when the live provider is unreachable. Without a
// snapshot store, or when the count itself fails, the provider error
// stands.
func (r *Reconciler) reconcileFromSnapshots(ctx context.Context, schedulingEmail, paymentEmail string, purchasedAt time.Time, provErr error) (*Reconciliation, error) {
	if r.snapshots == nil {
		return nil, provErr
	}

	count, err := r.snapshots.CountBookingsSince(ctx, schedulingEmail, purchasedAt)
	if err != nil {
		r.log.WithError(err).WithField("email", schedulingEmail).
			Warn("snapshot fallback failed after provider error")
		return nil, provErr
	}
	r.log.WithError(provErr).WithFields(logrus.Fields{
		"email":          schedulingEmail,
		"snapshot_count": count,
	}).Warn("booking provider unavailable, serving snapshot counts")

	rec := &Reconciliation{
		ProviderCount: count,
		FromSnapshot:  true,
		ProviderError: provErr.Error(),
	}

	ledgerCount, err := r.ledger.ConsumedSince(ctx, paymentEmail, purchasedAt)
	if err != nil {
		return nil, err
	}
	rec.LedgerCount = ledgerCount

	rec.Consumed = ledgerCount
	if ledgerCount == 0 && count > 0 {
		rec.Consumed = count
	}
	return rec, nil
}
