/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Webhook endpoint (signature rejection, crediting, duplicate ack)
- Query endpoint (end-to-end purchase + usage, provider degradation)
- Admin adjustments and list endpoints
*/
package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brighttails/credit-engine/api"
	"github.com/brighttails/credit-engine/bookings"
	"github.com/brighttails/credit-engine/ingest"
	"github.com/brighttails/credit-engine/ledger"
	ledgerstore "github.com/brighttails/credit-engine/ledger/store"
	"github.com/brighttails/credit-engine/metrics"
	"github.com/brighttails/credit-engine/packages"
	"github.com/brighttails/credit-engine/payments"
)

const testSecret = "whsec_handler_test"

// =============================================================================
// TEST SETUP
// =============================================================================

// stubGateway serves the resolver from fixed checkout sessions; all other
// lookups answer empty.
type stubGateway struct {
	sessions []payments.CheckoutSession
	fail     bool
}

func (s *stubGateway) FindCustomerByEmail(ctx context.Context, email string) (*payments.Customer, error) {
	if s.fail {
		return nil, fmt.Errorf("provider down")
	}
	return nil, nil
}

func (s *stubGateway) ListInvoices(ctx context.Context, customerID string) ([]payments.Invoice, error) {
	return nil, nil
}

func (s *stubGateway) ListPaymentIntentsByCustomer(ctx context.Context, customerID string) ([]payments.PaymentIntent, error) {
	return nil, nil
}

func (s *stubGateway) ListRecentPaymentIntents(ctx context.Context) ([]payments.PaymentIntent, error) {
	if s.fail {
		return nil, fmt.Errorf("provider down")
	}
	return nil, nil
}

func (s *stubGateway) ListChargesByCustomer(ctx context.Context, customerID string) ([]payments.Charge, error) {
	return nil, nil
}

func (s *stubGateway) ListRecentCharges(ctx context.Context) ([]payments.Charge, error) {
	if s.fail {
		return nil, fmt.Errorf("provider down")
	}
	return nil, nil
}

func (s *stubGateway) ListRecentCheckoutSessions(ctx context.Context) ([]payments.CheckoutSession, error) {
	if s.fail {
		return nil, fmt.Errorf("provider down")
	}
	return s.sessions, nil
}

func (s *stubGateway) FindCheckoutSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (*payments.CheckoutSession, error) {
	return nil, nil
}

func (s *stubGateway) GetPaymentIntent(ctx context.Context, id string) (*payments.PaymentIntent, error) {
	return nil, fmt.Errorf("no such payment_intent")
}

type stubProvider struct {
	bookings []bookings.Booking
	err      error
}

func (s *stubProvider) ListBookings(ctx context.Context, attendeeEmail string) ([]bookings.Booking, error) {
	return s.bookings, s.err
}

type stubSnapshots struct {
	saved []bookings.Snapshot
	count int
}

func (s *stubSnapshots) SaveBookingSnapshot(ctx context.Context, snap bookings.Snapshot) error {
	s.saved = append(s.saved, snap)
	return nil
}

func (s *stubSnapshots) CountBookingsSince(ctx context.Context, email string, since time.Time) (int, error) {
	return s.count, nil
}

type testEnv struct {
	router  http.Handler
	ledger  *ledger.Ledger
	gateway *stubGateway
	cal     *stubProvider
	snaps   *stubSnapshots
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	led := ledger.New(ledgerstore.NewMemory())
	catalog := packages.Default()

	proc, err := ingest.NewProcessor(led, catalog, testSecret, log)
	require.NoError(t, err)

	gw := &stubGateway{}
	cal := &stubProvider{}
	snaps := &stubSnapshots{}
	resolver := payments.NewResolver(gw, catalog, log)
	reconciler := bookings.NewReconciler(cal, led, snaps, log)

	h := api.NewHandler(led, proc, resolver, reconciler, log)
	return &testEnv{
		router:  api.NewRouter(h, []string{"*"}),
		ledger:  led,
		gateway: gw,
		cal:     cal,
		snaps:   snaps,
	}
}

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(sessionID, email string, amountCents int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_%s",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": %q,
			"amount_total": %d,
			"currency": "usd",
			"customer_details": {"email": %q}
		}}
	}`, sessionID, sessionID, amountCents, email))
}

func (e *testEnv) postWebhook(t *testing.T, payload []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

// =============================================================================
// WEBHOOK ENDPOINT
// =============================================================================

func TestStripeWebhook_BadSignature_400(t *testing.T) {
	env := newTestEnv(t)
	payload := checkoutEvent("cs_bad", "a@b.com", 15000)

	rr := env.postWebhook(t, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	balance, err := env.ledger.Balance(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestStripeWebhook_CompletedCheckout_Credits(t *testing.T) {
	env := newTestEnv(t)
	payload := checkoutEvent("cs_123", "a@b.com", 15000)
	granted := testutil.ToFloat64(metrics.CreditsGranted.WithLabelValues("4_pack"))

	rr := env.postWebhook(t, payload, signPayload(payload, testSecret))
	require.Equal(t, http.StatusOK, rr.Code)

	ack := decodeBody[api.WebhookAckResponse](t, rr)
	assert.True(t, ack.Received)
	assert.Equal(t, "cs_123", ack.SessionID)
	assert.Equal(t, 4, ack.CreditsAdded)
	assert.Equal(t, granted+4, testutil.ToFloat64(metrics.CreditsGranted.WithLabelValues("4_pack")))

	// Redelivery acks without counting the grant again.
	rr = env.postWebhook(t, payload, signPayload(payload, testSecret))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, granted+4, testutil.ToFloat64(metrics.CreditsGranted.WithLabelValues("4_pack")))
}

func TestStripeWebhook_UndecodableSession_400(t *testing.T) {
	// Signed and verified, but the session object has the wrong shape.
	env := newTestEnv(t)
	payload := []byte(`{
		"id": "evt_garbled",
		"type": "checkout.session.completed",
		"data": {"object": {"id": 123}}
	}`)

	rr := env.postWebhook(t, payload, signPayload(payload, testSecret))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStripeWebhook_Redelivery_AckedBalanceUnchanged(t *testing.T) {
	env := newTestEnv(t)
	payload := checkoutEvent("cs_123", "a@b.com", 15000)

	rr := env.postWebhook(t, payload, signPayload(payload, testSecret))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.postWebhook(t, payload, signPayload(payload, testSecret))
	require.Equal(t, http.StatusOK, rr.Code)
	ack := decodeBody[api.WebhookAckResponse](t, rr)
	assert.True(t, ack.Duplicate)

	balance, err := env.ledger.Balance(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)
}

func TestStripeWebhook_UnhandledEvent_AckedIgnored(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id": "evt_x", "type": "invoice.paid", "data": {"object": {}}}`)

	rr := env.postWebhook(t, payload, signPayload(payload, testSecret))
	require.Equal(t, http.StatusOK, rr.Code)
	ack := decodeBody[api.WebhookAckResponse](t, rr)
	assert.True(t, ack.Ignored)
}

// =============================================================================
// QUERY ENDPOINT
// =============================================================================

func TestLastPayment_EndToEnd(t *testing.T) {
	// GIVEN: A credited checkout for a@b.com and a matching provider
	//        session plus one booking after the purchase
	// WHEN: Querying last-payment
	// THEN: Found with the 4-Pack, balance 4, one consumed booking
	env := newTestEnv(t)
	purchased := time.Now().UTC().Add(-72 * time.Hour)

	payload := checkoutEvent("cs_123", "a@b.com", 15000)
	rr := env.postWebhook(t, payload, signPayload(payload, testSecret))
	require.Equal(t, http.StatusOK, rr.Code)

	env.gateway.sessions = []payments.CheckoutSession{{
		ID: "cs_123", AmountCents: 15000, Currency: "usd",
		PaymentStatus: "paid", CustomerEmail: "a@b.com", Created: purchased,
	}}
	start := purchased.Add(24 * time.Hour)
	env.cal.bookings = []bookings.Booking{
		{UID: "bk_1", Status: "accepted", Start: &start},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me/last-payment?email=a@b.com", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[api.LastPaymentResponse](t, rec)
	assert.True(t, resp.Found)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "cs_123", resp.Payment.ID)
	assert.Equal(t, 150.0, resp.Payment.Amount)
	require.NotNil(t, resp.PurchasedPackage)
	assert.Equal(t, "4-Pack", resp.PurchasedPackage.PackageName)
	assert.Equal(t, 4, resp.RemainingCredits)
	assert.Equal(t, 1, resp.CompletedBookingsSincePurchase)
	require.Len(t, resp.CalBookings, 1)
	assert.Equal(t, "bk_1", resp.CalBookings[0].UID)
}

func TestLastPayment_InvalidEmail_400(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me/last-payment?email=not-an-email", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLastPayment_ProviderDown_BalanceStillReturned(t *testing.T) {
	// GIVEN: Ledger has 4 credits but every payment-provider call fails
	// WHEN: Querying
	// THEN: 200 with the local balance and populated diagnostics
	env := newTestEnv(t)
	_, err := env.ledger.AppendEntry(context.Background(), "a@b.com", 4, ledger.SourceStripe, "cs_prior")
	require.NoError(t, err)
	env.gateway.fail = true

	req := httptest.NewRequest(http.MethodGet, "/api/me/last-payment?email=a@b.com", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[api.LastPaymentResponse](t, rr)
	assert.False(t, resp.Found)
	assert.Equal(t, 4, resp.RemainingCredits)
	assert.NotEmpty(t, resp.Diagnostics.Errors)
}

func TestLastPayment_CalDown_PaymentStillReturned(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.sessions = []payments.CheckoutSession{{
		ID: "cs_9", AmountCents: 4500, Currency: "usd",
		PaymentStatus: "paid", CustomerEmail: "a@b.com",
		Created: time.Now().UTC().Add(-time.Hour),
	}}
	env.cal.err = fmt.Errorf("cal unavailable")

	req := httptest.NewRequest(http.MethodGet, "/api/me/last-payment?email=a@b.com", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[api.LastPaymentResponse](t, rr)
	assert.True(t, resp.Found)
	assert.NotEmpty(t, resp.Diagnostics.CalError)
	assert.Empty(t, resp.CalBookings)
}

func TestLastPayment_CalDown_SnapshotCountServed(t *testing.T) {
	// GIVEN: The booking provider is down but 2 bookings were snapshotted
	//        on earlier successful runs
	// WHEN: Querying
	// THEN: The stored count is reported and the provider failure shows
	//       in diagnostics
	env := newTestEnv(t)
	env.gateway.sessions = []payments.CheckoutSession{{
		ID: "cs_10", AmountCents: 4500, Currency: "usd",
		PaymentStatus: "paid", CustomerEmail: "a@b.com",
		Created: time.Now().UTC().Add(-time.Hour),
	}}
	env.cal.err = fmt.Errorf("cal unavailable")
	env.snaps.count = 2

	req := httptest.NewRequest(http.MethodGet, "/api/me/last-payment?email=a@b.com", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[api.LastPaymentResponse](t, rr)
	assert.True(t, resp.Found)
	assert.Equal(t, 2, resp.CompletedBookingsSincePurchase)
	assert.NotEmpty(t, resp.Diagnostics.CalError)
	assert.Empty(t, resp.CalBookings)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateAdjustment_GrantsCredits(t *testing.T) {
	env := newTestEnv(t)

	rr := postJSON(t, env.router, "/api/admin/adjustments", api.AdjustmentRequest{
		Email: "a@b.com", Delta: 2, Reason: "goodwill", Actor: "support",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	resp := decodeBody[api.AdjustmentResponse](t, rr)
	assert.Equal(t, 2, resp.Delta)
	assert.Equal(t, 2, resp.NewBalance)
	assert.Contains(t, resp.ExternalID, "admin_support_")
}

func TestCreateAdjustment_ZeroDelta_400(t *testing.T) {
	env := newTestEnv(t)

	rr := postJSON(t, env.router, "/api/admin/adjustments", api.AdjustmentRequest{
		Email: "a@b.com", Delta: 0,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateAdjustment_RepeatedAdjustments_Allowed(t *testing.T) {
	// Manual actions are deliberate; no idempotency constraint applies.
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		rr := postJSON(t, env.router, "/api/admin/adjustments", api.AdjustmentRequest{
			Email: "a@b.com", Delta: -1,
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	balance, err := env.ledger.Balance(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, -2, balance)
}

func TestListLedger_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"cs_a", "cs_b"} {
		_, err := env.ledger.AppendEntry(ctx, "a@b.com", 1, ledger.SourceStripe, id)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/ledger?limit=1", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	entries := decodeBody[[]api.LedgerEntryDTO](t, rr)
	require.Len(t, entries, 1)
	assert.Equal(t, "cs_b", entries[0].ExternalID)
}

func TestListBalances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.ledger.AppendEntry(ctx, "low@b.com", 1, ledger.SourceStripe, "cs_low")
	require.NoError(t, err)
	_, err = env.ledger.AppendEntry(ctx, "high@b.com", 8, ledger.SourceStripe, "cs_high")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/balances", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rows := decodeBody[[]api.BalanceDTO](t, rr)
	require.Len(t, rows, 2)
	assert.Equal(t, "high@b.com", rows[0].Email)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
