/*
handlers.go - HTTP API handlers for the credit engine

PURPOSE:
  Exposes the credit ledger and reconciliation engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Webhooks:
    POST   /api/webhooks/stripe        Signed payment events (write path)

  Query:
    GET    /api/me/last-payment        Resolve purchase + usage for a customer

  Admin:
    POST   /api/admin/adjustments      Manual ledger correction
    GET    /api/admin/ledger           Recent ledger entries
    GET    /api/admin/balances         Per-customer balances

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (ledger, resolver, reconciler)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, bad signatures, invalid input
  - 500: Storage or internal errors
  The query endpoint is deliberately lenient: external provider failures
  degrade the response (diagnostics populated, balance still computed)
  instead of failing it.

SECURITY NOTE:
  The webhook endpoint authenticates via payload signature. Admin
  endpoints carry no authentication here; deploy them behind an
  authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brighttails/credit-engine/bookings"
	"github.com/brighttails/credit-engine/ingest"
	"github.com/brighttails/credit-engine/ledger"
	"github.com/brighttails/credit-engine/metrics"
	"github.com/brighttails/credit-engine/payments"
)

// Admin list page sizes.
const (
	defaultLedgerLimit  = 50
	defaultBalanceLimit = 100
	maxListLimit        = 500
)

// Limit on raw webhook bodies; the provider's events are far smaller.
const maxWebhookBody = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *ledger.Ledger
	Processor  *ingest.Processor
	Resolver   *payments.Resolver
	Reconciler *bookings.Reconciler
	Log        *logrus.Logger
}

// NewHandler creates a new handler wired to the given domain services.
func NewHandler(led *ledger.Ledger, proc *ingest.Processor, res *payments.Resolver, rec *bookings.Reconciler, log *logrus.Logger) *Handler {
	return &Handler{
		Ledger:     led,
		Processor:  proc,
		Resolver:   res,
		Reconciler: rec,
		Log:        log,
	}
}

// =============================================================================
// WEBHOOK ENDPOINT
// =============================================================================

// StripeWebhook receives signed payment events.
// POST /api/webhooks/stripe
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	out, err := h.Processor.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case ledger.IsClientError(err),
			isIngestClientError(err):
			metrics.WebhookEvents.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "Webhook rejected", err)
		default:
			metrics.WebhookEvents.WithLabelValues("failed").Inc()
			writeError(w, http.StatusInternalServerError, "Failed to process webhook", err)
		}
		return
	}

	switch {
	case out.Ignored:
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
	case out.Duplicate:
		metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
	default:
		metrics.WebhookEvents.WithLabelValues("credited").Inc()
		metrics.CreditsGranted.WithLabelValues(out.PackageID).Add(float64(out.CreditsAdded))
	}

	writeJSON(w, http.StatusOK, WebhookAckResponse{
		Received:     out.Received,
		Ignored:      out.Ignored,
		Duplicate:    out.Duplicate,
		SessionID:    out.SessionID,
		CreditsAdded: out.CreditsAdded,
	})
}

// =============================================================================
// QUERY ENDPOINT
// =============================================================================

// LastPayment resolves a customer's most recent purchase and usage.
// GET /api/me/last-payment?email=...&cal_email=...
//
// Always answers 200 with a well-formed body when the email is valid:
// provider failures land in diagnostics and the locally computed ledger
// balance is returned regardless.
func (h *Handler) LastPayment(w http.ResponseWriter, r *http.Request) {
	email, err := ledger.NormalizeEmail(r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email", err)
		return
	}

	// Scheduling identity may differ from the payment identity.
	calEmail := r.URL.Query().Get("cal_email")
	if calEmail == "" {
		calEmail = email
	}

	ctx := r.Context()
	resp := LastPaymentResponse{}

	balance, err := h.Ledger.Balance(ctx, email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}
	resp.RemainingCredits = balance

	resolution, err := h.Resolver.Resolve(ctx, email)
	if resolution != nil {
		resp.Invoices = toInvoiceDTOs(resolution.Invoices)
		resp.Diagnostics.StrategiesAttempted = resolution.Diagnostics.StrategiesAttempted
		resp.Diagnostics.Errors = resolution.Diagnostics.Errors
	}
	if err != nil {
		metrics.ExternalCallFailures.WithLabelValues(payments.ProviderStripe).Inc()
		h.Log.WithError(err).WithField("email", email).Warn("payment resolution failed")
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if !resolution.Found {
		metrics.ResolverNotFound.Inc()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	metrics.ResolverStrategyHits.WithLabelValues(resolution.Payment.Strategy).Inc()
	resp.Found = true
	resp.Payment = toPaymentDTO(resolution.Payment)
	resp.PurchasedPackage = &PackageDTO{
		PackageID:   resolution.Payment.Package.ID,
		PackageName: resolution.Payment.Package.Name,
		Credits:     resolution.Payment.Package.Credits,
	}

	rec, err := h.Reconciler.Reconcile(ctx, calEmail, email, resolution.Payment.Created)
	if err != nil {
		metrics.ExternalCallFailures.WithLabelValues(bookings.ProviderCalCom).Inc()
		resp.Diagnostics.CalError = err.Error()
		h.Log.WithError(err).WithField("email", calEmail).Warn("booking reconciliation failed")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if rec.FromSnapshot {
		metrics.ExternalCallFailures.WithLabelValues(bookings.ProviderCalCom).Inc()
		resp.Diagnostics.CalError = rec.ProviderError
		h.Log.WithField("email", calEmail).Warn("booking counts served from snapshots")
	}
	resp.CompletedBookingsSincePurchase = rec.Consumed
	resp.CalBookings = toBookingDTOs(rec.SincePurchase)
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// CreateAdjustment appends a manual ledger correction.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = "admin"
	}

	ctx := r.Context()
	externalID := ledger.ManualExternalID(actor, time.Now().UTC())
	entry, err := h.Ledger.AppendEntry(ctx, req.Email, req.Delta, ledger.SourceManual, externalID)
	if err != nil {
		if ledger.IsClientError(err) {
			writeError(w, http.StatusBadRequest, "Invalid adjustment", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to record adjustment", err)
		return
	}

	direction := "grant"
	if entry.Delta < 0 {
		direction = "revoke"
	}
	metrics.ManualAdjustments.WithLabelValues(direction).Inc()

	balance, err := h.Ledger.Balance(ctx, entry.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"email":  entry.Email,
		"delta":  entry.Delta,
		"actor":  actor,
		"reason": req.Reason,
	}).Info("manual ledger adjustment")

	writeJSON(w, http.StatusCreated, AdjustmentResponse{
		Email:      entry.Email,
		Delta:      entry.Delta,
		NewBalance: balance,
		EntryID:    entry.ID,
		ExternalID: entry.ExternalID,
	})
}

// ListLedger returns recent ledger entries, newest first.
// GET /api/admin/ledger?limit=50
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultLedgerLimit)

	entries, err := h.Ledger.RecentEntries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list ledger", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:         e.ID,
			Email:      e.Email,
			Delta:      e.Delta,
			Source:     string(e.Source),
			ExternalID: e.ExternalID,
			CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListBalances returns per-customer balances, highest first.
// GET /api/admin/balances?limit=100
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultBalanceLimit)

	rows, err := h.Ledger.Balances(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list balances", err)
		return
	}

	dtos := make([]BalanceDTO, len(rows))
	for i, row := range rows {
		dtos[i] = BalanceDTO{Email: row.Email, Balance: row.Balance}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toBookingDTOs(bks []bookings.Booking) []BookingDTO {
	if len(bks) == 0 {
		return nil
	}
	dtos := make([]BookingDTO, len(bks))
	for i, b := range bks {
		dto := BookingDTO{UID: b.UID, Title: b.Title, Status: b.Status}
		if b.Start != nil {
			dto.Start = b.Start.UTC().Format(time.RFC3339)
		}
		dtos[i] = dto
	}
	return dtos
}

func isIngestClientError(err error) bool {
	return errors.Is(err, ingest.ErrBadSignature) ||
		errors.Is(err, ingest.ErrMissingEmail) ||
		errors.Is(err, ingest.ErrMalformedEvent)
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
