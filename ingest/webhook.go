/*
Package ingest is the sole external write path into the credit ledger.

PURPOSE:
  Turns signed "checkout completed" notifications from the payment
  provider into ledger entries. The pipeline per event:

    verify -> filter -> extract email -> classify package -> append

  Verification fails closed. Filtering acknowledges but ignores event
  types we don't handle, so the provider never retries them. The append
  is idempotent on the session id: redelivery of the same event is
  acknowledged as a duplicate with no ledger effect.

SEE ALSO:
  - ledger/ledger.go: the append contract and duplicate semantics
  - packages/catalog.go: amount-to-credits classification
*/
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/brighttails/credit-engine/ledger"
	"github.com/brighttails/credit-engine/packages"
)

// EventCheckoutCompleted is the only event type that writes to the ledger.
const EventCheckoutCompleted = stripe.EventTypeCheckoutSessionCompleted

// checkoutSession is the slice of the provider's session object this
// pipeline needs. Decoded from the event's raw payload rather than the
// SDK type so a provider schema addition cannot break ingestion.
type checkoutSession struct {
	ID              string            `json:"id"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// emailExtractors pull the customer email from a session, tried in order.
// The structured customer_details field is authoritative; the top-level
// customer_email only appears on sessions created with a preset email.
var emailExtractors = []func(checkoutSession) string{
	func(s checkoutSession) string { return s.CustomerDetails.Email },
	func(s checkoutSession) string { return s.CustomerEmail },
}

// Outcome reports what an event did. Exactly one of Ignored, Duplicate,
// or a positive CreditsAdded applies to an accepted event.
type Outcome struct {
	Received     bool   `json:"received"`
	Ignored      bool   `json:"ignored,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	EventType    string `json:"event_type,omitempty"`
	EventID      string `json:"event_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Email        string `json:"email,omitempty"`
	PackageID    string `json:"package_id,omitempty"`
	CreditsAdded int    `json:"credits_added,omitempty"`
}

// Processor verifies and applies inbound payment events.
type Processor struct {
	ledger  *ledger.Ledger
	catalog *packages.Catalog
	secret  string
	log     *logrus.Logger
}

func NewProcessor(led *ledger.Ledger, catalog *packages.Catalog, webhookSecret string, log *logrus.Logger) (*Processor, error) {
	if webhookSecret == "" {
		return nil, ErrSecretMissing
	}
	return &Processor{ledger: led, catalog: catalog, secret: webhookSecret, log: log}, nil
}

// Process verifies the raw payload against the signature header and, for
// a completed checkout, appends exactly one ledger entry keyed on the
// session id. Safe to call repeatedly with the same event.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) (Outcome, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, p.secret)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	out := Outcome{Received: true, EventType: string(event.Type), EventID: event.ID}

	if event.Type != EventCheckoutCompleted {
		out.Ignored = true
		p.log.WithField("event_type", event.Type).Debug("ignoring unhandled event type")
		return out, nil
	}

	var session checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return out, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
	}
	out.SessionID = session.ID

	email := extractEmail(session)
	if email == "" {
		return out, fmt.Errorf("%w: session %s", ErrMissingEmail, session.ID)
	}
	out.Email = email

	pkg := p.catalog.Classify(session.Metadata["package"], session.AmountTotal)
	out.PackageID = pkg.ID

	entry, err := p.ledger.AppendEntry(ctx, email, pkg.Credits, ledger.SourceStripe, session.ID)
	if err != nil {
		if ledger.IsDuplicate(err) {
			out.Duplicate = true
			p.log.WithFields(logrus.Fields{
				"session_id": session.ID,
				"email":      email,
			}).Info("duplicate webhook delivery, no ledger effect")
			return out, nil
		}
		return out, err
	}

	out.CreditsAdded = entry.Delta
	p.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"email":      email,
		"package":    pkg.ID,
		"credits":    entry.Delta,
	}).Info("credited completed checkout")
	return out, nil
}

func extractEmail(s checkoutSession) string {
	for _, extract := range emailExtractors {
		if e := strings.TrimSpace(extract(s)); e != "" {
			return strings.ToLower(e)
		}
	}
	return ""
}
