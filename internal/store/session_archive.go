package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
)

// SessionArchive persists terminated call sessions. Archived sessions
// are never revived; a new call always starts a new session.
type SessionArchive struct {
	db *DB
}

// NewSessionArchive creates a session archive using the given database.
func NewSessionArchive(db *DB) *SessionArchive {
	return &SessionArchive{db: db}
}

// Archive writes the final snapshot of a terminated session.
func (s *SessionArchive) Archive(sess *domain.CallSession) error {
	slots, err := json.Marshal(sess.Slots)
	if err != nil {
		return fmt.Errorf("marshalling slots: %w", err)
	}

	_, err = s.db.sql.Exec(
		`INSERT INTO call_sessions (id, caller_number, final_state, slots_json, turn_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CallerNumber, string(sess.State), string(slots), sess.TurnCount,
		sess.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("archiving session %s: %w", sess.ID, err)
	}
	return nil
}

// Count returns the number of archived sessions (status reporting).
func (s *SessionArchive) Count() (int, error) {
	var n int
	if err := s.db.sql.QueryRow(`SELECT COUNT(*) FROM call_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting archived sessions: %w", err)
	}
	return n, nil
}
