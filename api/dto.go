/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Webhook:
    WebhookAckResponse

  Query:
    LastPaymentResponse, PaymentDTO, PackageDTO, InvoiceDTO, BookingDTO,
    DiagnosticsDTO

  Admin:
    AdjustmentRequest, AdjustmentResponse, LedgerEntryDTO, BalanceDTO

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/brighttails/credit-engine/payments"
)

// =============================================================================
// WEBHOOK
// =============================================================================

// WebhookAckResponse acknowledges an inbound payment event. Ignored and
// duplicate deliveries still ack with received=true so the provider
// stops retrying.
type WebhookAckResponse struct {
	Received     bool   `json:"received"`
	Ignored      bool   `json:"ignored,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	CreditsAdded int    `json:"credits_added,omitempty"`
}

// =============================================================================
// QUERY
// =============================================================================

// PaymentDTO is the resolved payment in a query response.
type PaymentDTO struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
	Created  string  `json:"created"`
	Source   string  `json:"source"`
}

// PackageDTO is the package classification of a resolved payment.
type PackageDTO struct {
	PackageID   string `json:"package_id"`
	PackageName string `json:"package_name"`
	Credits     int    `json:"credits"`
}

type InvoiceDTO struct {
	ID        string  `json:"id"`
	Number    string  `json:"number,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	HostedURL string  `json:"hosted_url,omitempty"`
	Created   string  `json:"created"`
}

type BookingDTO struct {
	UID    string `json:"uid"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
	Start  string `json:"start,omitempty"`
}

// DiagnosticsDTO reports the resolution trail and any provider failures.
// Additive only: populated errors never suppress the rest of the response.
type DiagnosticsDTO struct {
	StrategiesAttempted []string `json:"strategies_attempted,omitempty"`
	Errors              []string `json:"errors,omitempty"`
	CalError            string   `json:"cal_error,omitempty"`
}

// LastPaymentResponse is the full answer to "what did this customer buy
// and what remains". The ledger balance is always present even when the
// external providers fail.
type LastPaymentResponse struct {
	Found                         bool           `json:"found"`
	Payment                       *PaymentDTO    `json:"payment,omitempty"`
	PurchasedPackage              *PackageDTO    `json:"purchased_package,omitempty"`
	Invoices                      []InvoiceDTO   `json:"invoices,omitempty"`
	RemainingCredits              int            `json:"remaining_credits"`
	CalBookings                   []BookingDTO   `json:"cal_bookings,omitempty"`
	CompletedBookingsSincePurchase int           `json:"completed_bookings_since_purchase"`
	Diagnostics                   DiagnosticsDTO `json:"diagnostics"`
}

// =============================================================================
// ADMIN
// =============================================================================

// AdjustmentRequest is a manual ledger correction.
type AdjustmentRequest struct {
	Email  string `json:"email"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type AdjustmentResponse struct {
	Email      string `json:"email"`
	Delta      int    `json:"delta"`
	NewBalance int    `json:"new_balance"`
	EntryID    int64  `json:"entry_id"`
	ExternalID string `json:"external_id"`
}

type LedgerEntryDTO struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Delta      int    `json:"delta"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type BalanceDTO struct {
	Email   string `json:"email"`
	Balance int    `json:"balance"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPING HELPERS
// =============================================================================

func toPaymentDTO(p *payments.PurchaseRecord) *PaymentDTO {
	if p == nil {
		return nil
	}
	return &PaymentDTO{
		ID:       p.ID,
		Amount:   float64(p.AmountCents) / 100,
		Currency: p.Currency,
		Status:   p.Status,
		Created:  p.Created.UTC().Format(time.RFC3339),
		Source:   p.Strategy,
	}
}

func toInvoiceDTOs(invoices []payments.Invoice) []InvoiceDTO {
	if len(invoices) == 0 {
		return nil
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, in := range invoices {
		dtos[i] = InvoiceDTO{
			ID:        in.ID,
			Number:    in.Number,
			Amount:    float64(in.AmountCents) / 100,
			Currency:  in.Currency,
			Status:    in.Status,
			HostedURL: in.HostedURL,
			Created:   in.Created.UTC().Format(time.RFC3339),
		}
	}
	return dtos
}
