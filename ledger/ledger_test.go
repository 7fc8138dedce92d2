package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brighttails/credit-engine/ledger"
	ledgerstore "github.com/brighttails/credit-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger() *ledger.Ledger {
	return ledger.New(ledgerstore.NewMemory())
}

// =============================================================================
// IDEMPOTENCY INVARIANT
// =============================================================================

func TestLedger_DuplicateStripeEntry_NoSecondRow(t *testing.T) {
	// GIVEN: A stripe entry for session cs_1
	// WHEN: The same (source, external_id) is appended again
	// THEN: One stored row; the duplicate reports the existing entry
	led := newTestLedger()
	ctx := context.Background()

	first, err := led.AppendEntry(ctx, "a@b.com", 4, ledger.SourceStripe, "cs_1")
	require.NoError(t, err)

	existing, err := led.AppendEntry(ctx, "a@b.com", 4, ledger.SourceStripe, "cs_1")
	require.Error(t, err)
	assert.True(t, ledger.IsDuplicate(err))
	assert.Equal(t, first.ID, existing.ID)

	balance, err := led.Balance(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)

	entries, err := led.RecentEntries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_DifferentSessions_BothStored(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.AppendEntry(ctx, "a@b.com", 4, ledger.SourceStripe, "cs_1")
	require.NoError(t, err)
	_, err = led.AppendEntry(ctx, "a@b.com", 8, ledger.SourceStripe, "cs_2")
	require.NoError(t, err)

	balance, err := led.Balance(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 12, balance)
}

// =============================================================================
// BALANCE INVARIANT
// =============================================================================

func TestLedger_BalanceIsSumOfDeltas(t *testing.T) {
	// Balance equals the arithmetic sum of deltas, with other identities
	// interleaved.
	led := newTestLedger()
	ctx := context.Background()

	deltas := []int{8, -1, -1, 2, -3}
	sum := 0
	for i, d := range deltas {
		source := ledger.SourceManual
		externalID := ""
		if d > 0 && i == 0 {
			source = ledger.SourceStripe
			externalID = "cs_seed"
		}
		_, err := led.AppendEntry(ctx, "a@b.com", d, source, externalID)
		require.NoError(t, err)
		sum += d

		// Interleave another identity
		_, err = led.AppendEntry(ctx, "other@b.com", 1, ledger.SourceManual, "")
		require.NoError(t, err)
	}

	balance, err := led.Balance(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, sum, balance)
}

func TestLedger_UnknownIdentity_ZeroBalance(t *testing.T) {
	led := newTestLedger()

	balance, err := led.Balance(context.Background(), "nobody@b.com")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLedger_ZeroDelta_Rejected(t *testing.T) {
	led := newTestLedger()

	_, err := led.AppendEntry(context.Background(), "a@b.com", 0, ledger.SourceManual, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrZeroDelta)
	assert.True(t, ledger.IsClientError(err))

	entries, err := led.RecentEntries(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLedger_InvalidEmail_Rejected(t *testing.T) {
	led := newTestLedger()

	for _, email := range []string{"", "   ", "not-an-email", "a@", "@b.com"} {
		_, err := led.AppendEntry(context.Background(), email, 1, ledger.SourceManual, "")
		require.Error(t, err, "email %q should be rejected", email)
		assert.ErrorIs(t, err, ledger.ErrInvalidIdentity)
	}
}

func TestLedger_EmailNormalization(t *testing.T) {
	// Mixed-case and padded emails collapse to one identity.
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.AppendEntry(ctx, "  A@B.com ", 4, ledger.SourceStripe, "cs_1")
	require.NoError(t, err)
	_, err = led.AppendEntry(ctx, "a@b.COM", -1, ledger.SourceManual, "")
	require.NoError(t, err)

	balance, err := led.Balance(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 3, balance)
}

// =============================================================================
// MANUAL ADJUSTMENTS
// =============================================================================

func TestLedger_ManualDuplicates_Permitted(t *testing.T) {
	// Manual actions are deliberate: two identical corrections both land.
	led := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := led.AppendEntry(ctx, "a@b.com", -1, ledger.SourceManual, "")
		require.NoError(t, err)
	}

	balance, err := led.Balance(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, -2, balance)
}

func TestManualExternalID_EncodesActorAndTime(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	id := ledger.ManualExternalID("support", at)
	assert.Contains(t, id, "admin_support_")
	assert.Contains(t, id, "1773144000")

	// Distinct even for the same actor and instant
	assert.NotEqual(t, id, ledger.ManualExternalID("support", at))

	// Empty actor falls back to a generic label
	assert.Contains(t, ledger.ManualExternalID("", at), "admin_admin_")
}

// =============================================================================
// CONSUMPTION WINDOW
// =============================================================================

func TestLedger_ConsumedSince_IgnoresStripeAndPositive(t *testing.T) {
	led := newTestLedger()
	ctx := context.Background()

	_, err := led.AppendEntry(ctx, "a@b.com", 8, ledger.SourceStripe, "cs_1")
	require.NoError(t, err)
	_, err = led.AppendEntry(ctx, "a@b.com", -1, ledger.SourceManual, "")
	require.NoError(t, err)
	_, err = led.AppendEntry(ctx, "a@b.com", 2, ledger.SourceManual, "")
	require.NoError(t, err)

	count, err := led.ConsumedSince(ctx, "a@b.com", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
