/*
Package payments resolves a customer's most recent qualifying payment from
the external payment provider.

PURPOSE:
  The ledger is the source of truth for balances, but when a customer asks
  "what did I buy" the answer may predate the ledger (purchases made before
  the webhook integration existed, or guest checkouts under a different
  email casing). The resolver cross-references the provider directly,
  trying an ordered set of fallback strategies and reporting which one
  produced the answer.

KEY TYPES:
  Gateway:        Provider abstraction (implemented by the Stripe adapter)
  Resolver:       Ordered multi-strategy search
  PurchaseRecord: The resolved payment plus its package classification
  Resolution:     Full result including diagnostics

ERROR POLICY:
  A single failing strategy never aborts resolution - the failure is
  recorded in diagnostics and the next strategy runs. Only exhausting
  every strategy with at least one failure yields an error; clean
  exhaustion is a normal "not found" result.

SEE ALSO:
  - packages/catalog.go: amount-to-credits classification
  - ingest/webhook.go: the write path that usually makes this unnecessary
*/
package payments

import (
	"context"
	"time"
)

// ProviderStripe labels errors and diagnostics from the Stripe adapter.
const ProviderStripe = "stripe"

// =============================================================================
// PROVIDER DTOS
// =============================================================================
// Provider responses are mapped into these neutral shapes at the adapter
// boundary so the resolver never touches provider SDK types.

// Customer is a registered customer record at the payment provider.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// PaymentIntent is a payment attempt. Qualifying states are "succeeded"
// and "requires_capture".
type PaymentIntent struct {
	ID           string
	AmountCents  int64
	Currency     string
	Status       string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
	Created      time.Time
}

// Charge is a settled (or attempted) card charge. Qualifying charges
// have Paid set.
type Charge struct {
	ID           string
	AmountCents  int64
	Currency     string
	Status       string
	Paid         bool
	Description  string
	ReceiptEmail string
	BillingEmail string
	Metadata     map[string]string
	Created      time.Time
}

// CheckoutSession is a hosted checkout flow. A paid session usually
// references the payment intent that settled it.
type CheckoutSession struct {
	ID              string
	AmountCents     int64
	Currency        string
	PaymentStatus   string
	CustomerEmail   string
	PaymentIntentID string
	Metadata        map[string]string
	Created         time.Time
}

// Invoice is a billing document attached to a registered customer,
// returned as a side output when strategy one finds the customer.
type Invoice struct {
	ID          string
	Number      string
	AmountCents int64
	Currency    string
	Status      string
	HostedURL   string
	Created     time.Time
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway is the payment-provider surface the resolver needs. The Stripe
// adapter implements it against the live API; tests implement it in memory.
type Gateway interface {
	// FindCustomerByEmail returns the first customer matching the email,
	// or nil when none is registered.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)

	// ListInvoices returns recent invoices for a registered customer,
	// newest first.
	ListInvoices(ctx context.Context, customerID string) ([]Invoice, error)

	// ListPaymentIntentsByCustomer returns a registered customer's recent
	// payment intents, newest first.
	ListPaymentIntentsByCustomer(ctx context.Context, customerID string) ([]PaymentIntent, error)

	// ListRecentPaymentIntents returns the account's recent payment
	// intents regardless of customer, newest first. Used for guest
	// checkouts matched by receipt email.
	ListRecentPaymentIntents(ctx context.Context) ([]PaymentIntent, error)

	// ListChargesByCustomer returns a registered customer's recent
	// charges, newest first.
	ListChargesByCustomer(ctx context.Context, customerID string) ([]Charge, error)

	// ListRecentCharges returns the account's recent charges, newest first.
	ListRecentCharges(ctx context.Context) ([]Charge, error)

	// ListRecentCheckoutSessions returns the account's recent checkout
	// sessions, newest first.
	ListRecentCheckoutSessions(ctx context.Context) ([]CheckoutSession, error)

	// FindCheckoutSessionByPaymentIntent returns the session that settled
	// through the given payment intent, or nil.
	FindCheckoutSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (*CheckoutSession, error)

	// GetPaymentIntent retrieves a single payment intent by id.
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
}
