/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store plus the booking snapshot store using SQLite.
  In production, the same patterns apply to MySQL/PostgreSQL - only minor
  SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the credit_ledger table
  - No DELETE statements on the credit_ledger table
  - Corrections via offsetting entries only

KEY TABLES:
  credit_ledger:     Immutable ledger of all credit movements
  booking_snapshots: External scheduling events (secondary usage source)

IDEMPOTENCY:
  A partial unique index on (source, external_id) makes the ledger's
  check-then-insert atomic: of two concurrent appends for the same
  external transaction, exactly one row is inserted and the loser gets
  ledger.ErrDuplicateEntry.

FIRST-RUN TOLERANCE:
  Read paths treat "no such table" as zero records so an uninitialized
  database answers balance queries instead of failing. Migration runs
  on New(), so this matters mainly for externally managed databases.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  led := ledger.New(store)

SEE ALSO:
  - ledger/store.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brighttails/credit-engine/bookings"
	"github.com/brighttails/credit-engine/ledger"
)

// Store implements ledger.Store and bookings.SnapshotStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Credit ledger (append-only)
	CREATE TABLE IF NOT EXISTS credit_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		delta INTEGER NOT NULL,
		source TEXT NOT NULL,
		external_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_email
		ON credit_ledger(email);
	CREATE INDEX IF NOT EXISTS idx_ledger_source
		ON credit_ledger(source);
	CREATE INDEX IF NOT EXISTS idx_ledger_created_at
		ON credit_ledger(created_at DESC);

	-- CRITICAL: one ledger entry per external transaction.
	-- Webhook delivery is at-least-once; this index is what makes the
	-- check-then-insert in the ledger race-free.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_source_external
		ON credit_ledger(source, external_id)
		WHERE external_id IS NOT NULL;

	-- Booking snapshots from the scheduling provider
	CREATE TABLE IF NOT EXISTS booking_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		external_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		start_time TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(external_id)
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_email
		ON booking_snapshots(email);
	CREATE INDEX IF NOT EXISTS idx_bookings_status
		ON booking_snapshots(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append inserts a ledger entry and returns it with its assigned id and
// creation time.
func (s *Store) Append(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_ledger (email, delta, source, external_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Email, e.Delta, string(e.Source), nullString(e.ExternalID),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Entry{}, &ledger.DuplicateEntryError{
				Source:     e.Source,
				ExternalID: e.ExternalID,
			}
		}
		return ledger.Entry{}, fmt.Errorf("%w: append entry: %v", ledger.ErrStorage, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: entry id: %v", ledger.ErrStorage, err)
	}

	e.ID = id
	e.CreatedAt = now
	return e, nil
}

// FindByExternalID returns the entry for (source, external_id), or nil
// when no such entry exists.
func (s *Store) FindByExternalID(ctx context.Context, source ledger.Source, externalID string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, delta, source, external_id, created_at
		 FROM credit_ledger
		 WHERE source = ? AND external_id = ?
		 LIMIT 1`,
		string(source), externalID,
	)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find entry: %v", ledger.ErrStorage, err)
	}
	return &e, nil
}

// Balance sums deltas for an email. Zero when no rows (or no table) exist.
func (s *Store) Balance(ctx context.Context, email string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balance int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE email = ?",
		email,
	).Scan(&balance)
	if err != nil {
		if isMissingTableError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: balance: %v", ledger.ErrStorage, err)
	}
	return balance, nil
}

// RecentEntries returns up to limit entries, newest first.
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, delta, source, external_id, created_at
		 FROM credit_ledger
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		if isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: recent entries: %v", ledger.ErrStorage, err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", ledger.ErrStorage, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Balances returns per-customer balances, highest first.
func (s *Store) Balances(ctx context.Context, limit int) ([]ledger.BalanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT email, SUM(delta) AS balance
		 FROM credit_ledger
		 GROUP BY email
		 ORDER BY balance DESC, email ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		if isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: balances: %v", ledger.ErrStorage, err)
	}
	defer rows.Close()

	var result []ledger.BalanceRow
	for rows.Next() {
		var r ledger.BalanceRow
		if err := rows.Scan(&r.Email, &r.Balance); err != nil {
			return nil, fmt.Errorf("%w: scan balance: %v", ledger.ErrStorage, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ConsumedSince counts non-stripe consumption entries at or after since.
func (s *Store) ConsumedSince(ctx context.Context, email string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_ledger
		 WHERE email = ?
		   AND delta < 0
		   AND source != ?
		   AND created_at >= ?`,
		email, string(ledger.SourceStripe), since.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		if isMissingTableError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: consumed since: %v", ledger.ErrStorage, err)
	}
	return count, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (ledger.Entry, error) {
	var (
		e          ledger.Entry
		source     string
		externalID sql.NullString
		createdAt  string
	)
	if err := row.Scan(&e.ID, &e.Email, &e.Delta, &source, &externalID, &createdAt); err != nil {
		return e, err
	}
	e.Source = ledger.Source(source)
	e.ExternalID = externalID.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return e, nil
}

// =============================================================================
// BOOKING SNAPSHOT STORE (bookings.SnapshotStore interface)
// =============================================================================

// SaveBookingSnapshot inserts or refreshes a scheduling event snapshot.
// The external booking id is unique; re-syncing the same booking updates
// its status and start time in place.
func (s *Store) SaveBookingSnapshot(ctx context.Context, snap bookings.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var startTime sql.NullString
	if snap.Start != nil {
		startTime = sql.NullString{String: snap.Start.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO booking_snapshots (email, external_id, status, start_time, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			status = excluded.status,
			start_time = excluded.start_time`,
		snap.Email, snap.ExternalID, snap.Status, startTime,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking snapshot: %w", err)
	}
	return nil
}

// CountBookingsSince counts snapshots in a completed-like status created at
// or after since. Used as the secondary usage figure when the ledger has
// recorded no consumption.
func (s *Store) CountBookingsSince(ctx context.Context, email string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM booking_snapshots
		 WHERE email = ?
		   AND status IN ('completed', 'confirmed', 'accepted')
		   AND created_at >= ?`,
		email, since.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		if isMissingTableError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isMissingTableError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
