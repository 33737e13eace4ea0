package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvail/frontdesk/internal/domain"
)

// Memory is an in-process Calendar for tests and offline development.
// It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events map[string]map[string]Event // calendarID → eventID → event

	// FailListBusy and FailWrites inject collaborator faults. When set,
	// the corresponding operations fail until cleared.
	FailListBusy bool
	FailWrites   bool
}

// NewMemory creates an empty in-memory calendar.
func NewMemory() *Memory {
	return &Memory{events: make(map[string]map[string]Event)}
}

// ListBusy returns the busy intervals derived from stored events.
func (m *Memory) ListBusy(ctx context.Context, calendarID string, from, to time.Time) ([]domain.TimeWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailListBusy {
		return nil, fmt.Errorf("%w: injected fault", domain.ErrCalendarUnavailable)
	}

	query := domain.TimeWindow{Start: from, End: to}
	var busy []domain.TimeWindow
	for _, ev := range m.events[calendarID] {
		w := domain.TimeWindow{Start: ev.Start, End: ev.End}
		if w.Overlaps(query) {
			busy = append(busy, w)
		}
	}
	return busy, nil
}

// CreateEvent stores an event under a generated ID.
func (m *Memory) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return "", domain.Transient("calendar create", fmt.Errorf("injected fault"))
	}

	if m.events[calendarID] == nil {
		m.events[calendarID] = make(map[string]Event)
	}
	ev.ID = uuid.NewString()
	m.events[calendarID][ev.ID] = ev
	return ev.ID, nil
}

// CancelEvent removes an event; removing an unknown event succeeds.
func (m *Memory) CancelEvent(ctx context.Context, calendarID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return domain.Transient("calendar cancel", fmt.Errorf("injected fault"))
	}

	delete(m.events[calendarID], eventID)
	return nil
}

// EventCount returns the number of events on a calendar.
func (m *Memory) EventCount(calendarID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[calendarID])
}

// Seed adds a busy block directly, bypassing fault injection.
func (m *Memory) Seed(calendarID string, start, end time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.events[calendarID] == nil {
		m.events[calendarID] = make(map[string]Event)
	}
	id := uuid.NewString()
	m.events[calendarID][id] = Event{ID: id, Summary: "busy", Start: start, End: end}
	return id
}
