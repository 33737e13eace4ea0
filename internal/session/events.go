package session

import (
	"time"

	"github.com/mvail/frontdesk/internal/domain"
)

// Event is a session lifecycle notification for the operator feed.
type Event struct {
	SessionID    string              `json:"sessionId"`
	CallerNumber string              `json:"callerNumber"`
	State        domain.SessionState `json:"state"`
	Utterance    string              `json:"utterance,omitempty"`
	At           time.Time           `json:"at"`
}

// EventSink receives session events. Publish must not block the call.
type EventSink interface {
	Publish(ev Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}
