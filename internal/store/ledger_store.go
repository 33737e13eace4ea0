package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
)

// Ledger outcomes. A replayed idempotency key returns the recorded
// outcome instead of re-applying side effects.
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeOrphaned = "orphaned"
)

// LedgerEntry records the outcome of a committed (or definitively
// failed) appointment action, keyed by idempotency key.
type LedgerEntry struct {
	Key           string
	Kind          domain.ActionKind
	AppointmentID string
	Outcome       string
	CreatedAt     time.Time
}

// LedgerStore is the action executor's idempotency ledger.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a ledger store using the given database.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Get returns the entry for a key, or nil if the key is unseen.
func (s *LedgerStore) Get(key string) (*LedgerEntry, error) {
	var e LedgerEntry
	var kind, createdAt string
	err := s.db.sql.QueryRow(
		`SELECT idempotency_key, kind, appointment_id, outcome, created_at
		 FROM action_ledger WHERE idempotency_key = ?`, key,
	).Scan(&e.Key, &kind, &e.AppointmentID, &e.Outcome, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger entry: %w", err)
	}
	e.Kind = domain.ActionKind(kind)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

// Put records an outcome. The primary key rejects a second semantically
// different action under the same key.
func (s *LedgerStore) Put(e LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.sql.Exec(
		`INSERT INTO action_ledger (idempotency_key, kind, appointment_id, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Key, string(e.Kind), e.AppointmentID, e.Outcome, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing ledger entry: %w", err)
	}
	return nil
}
