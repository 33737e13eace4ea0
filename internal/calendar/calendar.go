// Package calendar defines the calendar collaborator boundary: the
// single source of truth for booking conflicts.
package calendar

import (
	"context"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
)

// Event is a calendar entry backing a committed appointment.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Calendar is the read/write window onto ground truth. Reads are cheap
// and possibly stale; writes are authoritative. The availability
// resolver only reads; the action executor owns all writes.
type Calendar interface {
	// ListBusy returns the busy intervals on a calendar overlapping
	// [from, to). An error here means CalendarUnavailable, which is
	// distinct from an empty (all-free) result.
	ListBusy(ctx context.Context, calendarID string, from, to time.Time) ([]domain.TimeWindow, error)

	// CreateEvent writes an event and returns its calendar-assigned ID.
	CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error)

	// CancelEvent removes an event. Cancelling an already-removed event
	// is not an error.
	CancelEvent(ctx context.Context, calendarID, eventID string) error
}
