package payments

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/charge"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// List sizes mirror the provider's documented maximum for account-wide
// scans and a small page for per-customer listings, where the newest
// qualifying record is almost always in the first few results.
const (
	recentScanLimit  = 100
	perCustomerLimit = 10
)

// StripeGateway implements Gateway against the live Stripe API.
type StripeGateway struct {
	log *logrus.Logger
}

// NewStripeGateway configures the stripe-go library with the given secret
// key and returns the adapter. The key is process-global per the library's
// design, so construct this once at startup.
func NewStripeGateway(secretKey string, log *logrus.Logger) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{log: log}
}

func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		c := iter.Customer()
		return &Customer{ID: c.ID, Email: c.Email, Name: c.Name}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, WrapCallError(ProviderStripe, "list customers", err)
	}
	return nil, nil
}

func (g *StripeGateway) ListInvoices(ctx context.Context, customerID string) ([]Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(perCustomerLimit)

	var result []Invoice
	iter := invoice.List(params)
	for iter.Next() {
		in := iter.Invoice()
		result = append(result, Invoice{
			ID:          in.ID,
			Number:      in.Number,
			AmountCents: in.AmountPaid,
			Currency:    string(in.Currency),
			Status:      string(in.Status),
			HostedURL:   in.HostedInvoiceURL,
			Created:     time.Unix(in.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, WrapCallError(ProviderStripe, "list invoices", err)
	}
	return result, nil
}

func (g *StripeGateway) ListPaymentIntentsByCustomer(ctx context.Context, customerID string) ([]PaymentIntent, error) {
	params := &stripe.PaymentIntentListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(perCustomerLimit)
	return g.collectPaymentIntents(params, "list customer payment intents")
}

func (g *StripeGateway) ListRecentPaymentIntents(ctx context.Context) ([]PaymentIntent, error) {
	params := &stripe.PaymentIntentListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(recentScanLimit)
	return g.collectPaymentIntents(params, "list recent payment intents")
}

func (g *StripeGateway) collectPaymentIntents(params *stripe.PaymentIntentListParams, op string) ([]PaymentIntent, error) {
	var result []PaymentIntent
	iter := paymentintent.List(params)
	for iter.Next() {
		result = append(result, toPaymentIntent(iter.PaymentIntent()))
	}
	if err := iter.Err(); err != nil {
		return nil, WrapCallError(ProviderStripe, op, err)
	}
	return result, nil
}

func (g *StripeGateway) ListChargesByCustomer(ctx context.Context, customerID string) ([]Charge, error) {
	params := &stripe.ChargeListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(perCustomerLimit)
	return g.collectCharges(params, "list customer charges")
}

func (g *StripeGateway) ListRecentCharges(ctx context.Context) ([]Charge, error) {
	params := &stripe.ChargeListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(recentScanLimit)
	return g.collectCharges(params, "list recent charges")
}

func (g *StripeGateway) collectCharges(params *stripe.ChargeListParams, op string) ([]Charge, error) {
	var result []Charge
	iter := charge.List(params)
	for iter.Next() {
		result = append(result, toCharge(iter.Charge()))
	}
	if err := iter.Err(); err != nil {
		return nil, WrapCallError(ProviderStripe, op, err)
	}
	return result, nil
}

func (g *StripeGateway) ListRecentCheckoutSessions(ctx context.Context) ([]CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(recentScanLimit)

	var result []CheckoutSession
	iter := checkoutsession.List(params)
	for iter.Next() {
		result = append(result, toCheckoutSession(iter.CheckoutSession()))
	}
	if err := iter.Err(); err != nil {
		return nil, WrapCallError(ProviderStripe, "list checkout sessions", err)
	}
	return result, nil
}

func (g *StripeGateway) FindCheckoutSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := checkoutsession.List(params)
	for iter.Next() {
		cs := toCheckoutSession(iter.CheckoutSession())
		return &cs, nil
	}
	if err := iter.Err(); err != nil {
		return nil, WrapCallError(ProviderStripe, "find checkout session", err)
	}
	return nil, nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, WrapCallError(ProviderStripe, "get payment intent", err)
	}
	result := toPaymentIntent(pi)
	return &result, nil
}

// =============================================================================
// SDK -> DTO MAPPING
// =============================================================================

func toPaymentIntent(pi *stripe.PaymentIntent) PaymentIntent {
	return PaymentIntent{
		ID:           pi.ID,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Description:  pi.Description,
		ReceiptEmail: strings.ToLower(pi.ReceiptEmail),
		Metadata:     pi.Metadata,
		Created:      time.Unix(pi.Created, 0).UTC(),
	}
}

func toCharge(ch *stripe.Charge) Charge {
	c := Charge{
		ID:           ch.ID,
		AmountCents:  ch.Amount,
		Currency:     string(ch.Currency),
		Status:       string(ch.Status),
		Paid:         ch.Paid,
		Description:  ch.Description,
		ReceiptEmail: strings.ToLower(ch.ReceiptEmail),
		Metadata:     ch.Metadata,
		Created:      time.Unix(ch.Created, 0).UTC(),
	}
	if ch.BillingDetails != nil {
		c.BillingEmail = strings.ToLower(ch.BillingDetails.Email)
	}
	return c
}

func toCheckoutSession(cs *stripe.CheckoutSession) CheckoutSession {
	s := CheckoutSession{
		ID:            cs.ID,
		AmountCents:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		PaymentStatus: string(cs.PaymentStatus),
		CustomerEmail: strings.ToLower(cs.CustomerEmail),
		Metadata:      cs.Metadata,
		Created:       time.Unix(cs.Created, 0).UTC(),
	}
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		s.CustomerEmail = strings.ToLower(cs.CustomerDetails.Email)
	}
	if cs.PaymentIntent != nil {
		s.PaymentIntentID = cs.PaymentIntent.ID
	}
	return s
}
