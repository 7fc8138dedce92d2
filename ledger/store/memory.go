// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brighttails/credit-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries []ledger.Entry
	nextID  int64
	// external keys seen so far, keyed by source + "\x00" + external id
	external map[string]int64

	// Now overrides the clock for deterministic tests.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		nextID:   1,
		external: make(map[string]int64),
		Now:      time.Now,
	}
}

func externalKey(source ledger.Source, externalID string) string {
	return string(source) + "\x00" + externalID
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ExternalID != "" {
		if id, ok := m.external[externalKey(e.Source, e.ExternalID)]; ok {
			return ledger.Entry{}, &ledger.DuplicateEntryError{
				Source:     e.Source,
				ExternalID: e.ExternalID,
				ExistingID: id,
			}
		}
	}

	e.ID = m.nextID
	m.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.Now().UTC()
	}
	m.entries = append(m.entries, e)

	if e.ExternalID != "" {
		m.external[externalKey(e.Source, e.ExternalID)] = e.ID
	}
	return e, nil
}

func (m *Memory) FindByExternalID(_ context.Context, source ledger.Source, externalID string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.external[externalKey(source, externalID)]
	if !ok {
		return nil, nil
	}
	for i := range m.entries {
		if m.entries[i].ID == id {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *Memory) Balance(_ context.Context, email string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance := 0
	for _, e := range m.entries {
		if e.Email == email {
			balance += e.Delta
		}
	}
	return balance, nil
}

func (m *Memory) RecentEntries(_ context.Context, limit int) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries))
	copy(result, m.entries)
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) Balances(_ context.Context, limit int) ([]ledger.BalanceRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byEmail := make(map[string]int)
	for _, e := range m.entries {
		byEmail[e.Email] += e.Delta
	}

	rows := make([]ledger.BalanceRow, 0, len(byEmail))
	for email, balance := range byEmail {
		rows = append(rows, ledger.BalanceRow{Email: email, Balance: balance})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Balance != rows[j].Balance {
			return rows[i].Balance > rows[j].Balance
		}
		return rows[i].Email < rows[j].Email
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *Memory) ConsumedSince(_ context.Context, email string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.entries {
		if e.Email == email && e.Delta < 0 && e.Source != ledger.SourceStripe && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
