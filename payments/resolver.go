package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brighttails/credit-engine/packages"
)

// Strategy labels reported in query responses. Order here is the order
// the resolver tries them.
const (
	StrategyPaymentIntent      = "payment_intent"
	StrategyCharge             = "charge"
	StrategyPaymentIntentGuest = "payment_intent_guest"
	StrategyChargeGuest        = "charge_guest"
	StrategyCheckoutSession    = "checkout_session"
)

// Payment intent states that count as a completed purchase.
// requires_capture covers manual-capture accounts where funds are held
// but not yet settled.
func qualifyingIntent(status string) bool {
	return status == "succeeded" || status == "requires_capture"
}

// PurchaseRecord is the resolved payment: what was paid, when, and which
// strategy found it, plus the package classification the amount implies.
type PurchaseRecord struct {
	ID          string
	AmountCents int64
	Currency    string
	Status      string
	Created     time.Time
	Strategy    string
	Description string
	Metadata    map[string]string
	Package     packages.Package
}

// Diagnostics records the resolution trail: every strategy attempted and
// every provider failure encountered along the way. Additive only - a
// populated Errors list never suppresses a found payment.
type Diagnostics struct {
	StrategiesAttempted []string `json:"strategies_attempted"`
	Errors              []string `json:"errors,omitempty"`
}

// Resolution is the full outcome of a resolver run. Found=false with a
// nil error means the provider genuinely has no qualifying payment.
type Resolution struct {
	Found       bool
	Payment     *PurchaseRecord
	Customer    *Customer
	Invoices    []Invoice
	Diagnostics Diagnostics
}

// defaultCallTimeout bounds a single resolution strategy against the
// provider. The SDK's own timeout is far too generous for an interactive
// query path.
const defaultCallTimeout = 5 * time.Second

// Resolver searches the payment provider for a customer's most recent
// qualifying payment using ordered fallback strategies.
type Resolver struct {
	gateway     Gateway
	catalog     *packages.Catalog
	log         *logrus.Logger
	callTimeout time.Duration
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithCallTimeout overrides the per-strategy deadline on provider calls.
func WithCallTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

func NewResolver(gateway Gateway, catalog *packages.Catalog, log *logrus.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{gateway: gateway, catalog: catalog, log: log, callTimeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the strategies in order and stops at the first qualifying
// payment. A failing strategy is recorded in diagnostics and the next one
// runs; the returned error is non-nil only when every strategy has been
// tried, none matched, and at least one failed - so "not found" can be
// distinguished from "could not look". When any failure was a deadline
// expiry the error is a TimeoutError.
//
// The Resolution is always non-nil, even alongside an error: the customer
// record and invoices gathered before a later failure are still returned.
func (r *Resolver) Resolve(ctx context.Context, email string) (*Resolution, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res := &Resolution{}

	type strategy struct {
		name string
		run  func(ctx context.Context) (*PurchaseRecord, error)
	}
	strategies := []strategy{
		{StrategyPaymentIntent, func(ctx context.Context) (*PurchaseRecord, error) {
			return r.byCustomerIntents(ctx, email, res)
		}},
		{StrategyCharge, func(ctx context.Context) (*PurchaseRecord, error) {
			return r.byCustomerCharges(ctx, res)
		}},
		{StrategyPaymentIntentGuest, func(ctx context.Context) (*PurchaseRecord, error) {
			return r.byGuestIntents(ctx, email)
		}},
		{StrategyChargeGuest, func(ctx context.Context) (*PurchaseRecord, error) {
			return r.byGuestCharges(ctx, email)
		}},
		{StrategyCheckoutSession, func(ctx context.Context) (*PurchaseRecord, error) {
			return r.byCheckoutSession(ctx, email, res)
		}},
	}

	failed := false
	timedOut := false
	for _, s := range strategies {
		res.Diagnostics.StrategiesAttempted = append(res.Diagnostics.StrategiesAttempted, s.name)

		// Each strategy gets its own deadline so one slow call cannot
		// eat the budget of the strategies behind it.
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		record, err := s.run(callCtx)
		if err != nil {
			cancel()
			err = classifyCallError(s.name, err)
			failed = true
			if IsTimeout(err) {
				timedOut = true
			}
			res.Diagnostics.Errors = append(res.Diagnostics.Errors, err.Error())
			r.log.WithError(err).WithFields(logrus.Fields{
				"strategy": s.name,
				"email":    email,
			}).Warn("payment resolution strategy failed")
			continue
		}
		if record == nil {
			cancel()
			continue
		}

		record.Strategy = s.name
		record.Package = r.classify(callCtx, record, res)
		cancel()
		res.Found = true
		res.Payment = record
		return res, nil
	}

	if timedOut {
		return res, &TimeoutError{Provider: ProviderStripe, Op: "resolve payment"}
	}
	if failed {
		return res, &ExternalError{
			Provider: ProviderStripe,
			Op:       "resolve payment",
			Err:      fmt.Errorf("no match after %d strategies with failures", len(strategies)),
		}
	}
	return res, nil
}

// classifyCallError normalizes a strategy failure. Gateway implementations
// wrap their own errors; a raw context error from an expired per-call
// deadline still needs classifying here.
func classifyCallError(op string, err error) error {
	if errors.Is(err, ErrExternalProvider) || errors.Is(err, ErrTimeout) {
		return err
	}
	return WrapCallError(ProviderStripe, op, err)
}

// =============================================================================
// STRATEGIES
// =============================================================================

// byCustomerIntents looks up the registered customer and scans their
// payment intents. Finding the customer also yields the invoice side
// output, kept on the Resolution for the remaining strategies.
func (r *Resolver) byCustomerIntents(ctx context.Context, email string, res *Resolution) (*PurchaseRecord, error) {
	cust, err := r.gateway.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		return nil, nil
	}
	res.Customer = cust

	invoices, err := r.gateway.ListInvoices(ctx, cust.ID)
	if err != nil {
		// Invoices are a side output; their failure never blocks resolution.
		res.Diagnostics.Errors = append(res.Diagnostics.Errors, err.Error())
		r.log.WithError(err).WithField("customer_id", cust.ID).Warn("invoice listing failed")
	} else {
		res.Invoices = invoices
	}

	intents, err := r.gateway.ListPaymentIntentsByCustomer(ctx, cust.ID)
	if err != nil {
		return nil, err
	}
	for _, pi := range intents {
		if qualifyingIntent(pi.Status) {
			return recordFromIntent(pi), nil
		}
	}
	return nil, nil
}

// byCustomerCharges scans the registered customer's charges. Runs only
// when the customer lookup in the previous strategy succeeded.
func (r *Resolver) byCustomerCharges(ctx context.Context, res *Resolution) (*PurchaseRecord, error) {
	if res.Customer == nil {
		return nil, nil
	}
	charges, err := r.gateway.ListChargesByCustomer(ctx, res.Customer.ID)
	if err != nil {
		return nil, err
	}
	for _, ch := range charges {
		if ch.Paid {
			return recordFromCharge(ch), nil
		}
	}
	return nil, nil
}

// byGuestIntents scans recent account-wide payment intents for a matching
// receipt email. Covers guest checkouts with no customer record.
func (r *Resolver) byGuestIntents(ctx context.Context, email string) (*PurchaseRecord, error) {
	intents, err := r.gateway.ListRecentPaymentIntents(ctx)
	if err != nil {
		return nil, err
	}
	for _, pi := range intents {
		if pi.ReceiptEmail == email && qualifyingIntent(pi.Status) {
			return recordFromIntent(pi), nil
		}
	}
	return nil, nil
}

// byGuestCharges scans recent account-wide charges for a matching receipt
// or billing email.
func (r *Resolver) byGuestCharges(ctx context.Context, email string) (*PurchaseRecord, error) {
	charges, err := r.gateway.ListRecentCharges(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range charges {
		if (ch.ReceiptEmail == email || ch.BillingEmail == email) && ch.Paid {
			return recordFromCharge(ch), nil
		}
	}
	return nil, nil
}

// byCheckoutSession scans recent checkout sessions for a matching customer
// email. A paid session that references a payment intent resolves to that
// intent's data; a session with no reference stands on its own.
func (r *Resolver) byCheckoutSession(ctx context.Context, email string, res *Resolution) (*PurchaseRecord, error) {
	sessions, err := r.gateway.ListRecentCheckoutSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, cs := range sessions {
		if cs.CustomerEmail != email || cs.PaymentStatus != "paid" {
			continue
		}
		if cs.PaymentIntentID != "" {
			pi, err := r.gateway.GetPaymentIntent(ctx, cs.PaymentIntentID)
			if err != nil {
				res.Diagnostics.Errors = append(res.Diagnostics.Errors, err.Error())
				r.log.WithError(err).WithField("session_id", cs.ID).
					Warn("referenced payment intent lookup failed, using session data")
			} else if qualifyingIntent(pi.Status) {
				record := recordFromIntent(*pi)
				// The intent's own metadata wins; the session's tag
				// fills in when the intent carries none, as on
				// hosted checkouts.
				if record.Metadata == nil {
					record.Metadata = cs.Metadata
				}
				return record, nil
			}
		}
		return &PurchaseRecord{
			ID:          cs.ID,
			AmountCents: cs.AmountCents,
			Currency:    cs.Currency,
			Status:      cs.PaymentStatus,
			Created:     cs.Created,
			Metadata:    cs.Metadata,
		}, nil
	}
	return nil, nil
}

func recordFromIntent(pi PaymentIntent) *PurchaseRecord {
	return &PurchaseRecord{
		ID:          pi.ID,
		AmountCents: pi.AmountCents,
		Currency:    pi.Currency,
		Status:      pi.Status,
		Created:     pi.Created,
		Description: pi.Description,
		Metadata:    pi.Metadata,
	}
}

func recordFromCharge(ch Charge) *PurchaseRecord {
	return &PurchaseRecord{
		ID:          ch.ID,
		AmountCents: ch.AmountCents,
		Currency:    ch.Currency,
		Status:      ch.Status,
		Created:     ch.Created,
		Description: ch.Description,
		Metadata:    ch.Metadata,
	}
}

// =============================================================================
// PACKAGE CLASSIFICATION
// =============================================================================

// classify determines the purchased package for a resolved payment:
// explicit metadata tag, then the checkout session that settled it (the
// tag usually lives there for hosted checkouts), then description
// sniffing, then the amount tier, then the catalog default. The same
// catalog drives webhook ingestion, so the two paths cannot disagree on
// a given amount.
func (r *Resolver) classify(ctx context.Context, record *PurchaseRecord, res *Resolution) packages.Package {
	if tag := record.Metadata["package"]; tag != "" {
		if pkg, ok := r.catalog.ByTag(tag); ok {
			return pkg
		}
	}

	if strings.HasPrefix(record.ID, "pi_") {
		cs, err := r.gateway.FindCheckoutSessionByPaymentIntent(ctx, record.ID)
		if err != nil {
			res.Diagnostics.Errors = append(res.Diagnostics.Errors, err.Error())
			r.log.WithError(err).WithField("payment_intent", record.ID).
				Warn("session lookup for package classification failed")
		} else if cs != nil {
			if pkg, ok := r.catalog.ByTag(cs.Metadata["package"]); ok {
				return pkg
			}
		}
	}

	if pkg, ok := r.catalog.ByDescription(record.Description); ok {
		return pkg
	}
	if pkg, ok := r.catalog.ByAmount(packages.AmountFromCents(record.AmountCents)); ok {
		return pkg
	}
	return r.catalog.Fallback()
}
