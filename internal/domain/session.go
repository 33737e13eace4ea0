package domain

import "time"

// SessionState is the orchestrator state of a call session.
type SessionState string

const (
	StateGreeting              SessionState = "greeting"
	StateIdentifying           SessionState = "identifying"
	StateCollecting            SessionState = "collecting"
	StateResolvingAvailability SessionState = "resolving_availability"
	StateAwaitingConfirmation  SessionState = "awaiting_confirmation"
	StateCommitting            SessionState = "committing"
	StateResponding            SessionState = "responding"
	StateEscalated             SessionState = "escalated"
	StateTerminated            SessionState = "terminated"
)

// Terminal reports whether the state accepts no further domain actions.
func (s SessionState) Terminal() bool {
	return s == StateEscalated || s == StateTerminated
}

// Intent is the caller's classified goal for the current exchange.
type Intent string

const (
	IntentBook       Intent = "book"
	IntentReschedule Intent = "reschedule"
	IntentCancel     Intent = "cancel"
	IntentFollowup   Intent = "followup"
	IntentFAQ        Intent = "faq"
	IntentUnknown    Intent = "unknown"
)

// TimeWindow is a half-open [Start, End) time range.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two windows share any time.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && w.End.After(o.Start)
}

// IsZero reports whether the window is unset.
func (w TimeWindow) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Slots is the dialogue state extracted from conversation so far.
// CallerIdentity holds a patient ID, or "unknown" until identification
// succeeds.
type Slots struct {
	CallerIdentity       string      `json:"callerIdentity,omitempty"`
	Intent               Intent      `json:"intent,omitempty"`
	PreferredDoctor      string      `json:"preferredDoctor,omitempty"`
	PreferredWindow      *TimeWindow `json:"preferredWindow,omitempty"`
	Relation             string      `json:"relation,omitempty"`
	Reason               string      `json:"reason,omitempty"`
	RelatedAppointmentID string      `json:"relatedAppointmentId,omitempty"`
}

// SlotUpdates carries slot values extracted from a single utterance.
// Zero-valued fields mean "no update"; set fields overwrite the session
// slot unconditionally (last-write-wins, no history).
type SlotUpdates struct {
	CallerIdentity       string
	Intent               Intent
	PreferredDoctor      string
	PreferredWindow      *TimeWindow
	Relation             string
	Reason               string
	RelatedAppointmentID string
}

// IsEmpty reports whether the updates carry nothing.
func (u SlotUpdates) IsEmpty() bool {
	return u.CallerIdentity == "" && (u.Intent == "" || u.Intent == IntentUnknown) &&
		u.PreferredDoctor == "" && u.PreferredWindow == nil &&
		u.Relation == "" && u.Reason == "" && u.RelatedAppointmentID == ""
}

// Merge applies updates onto the slots, most recent value winning.
func (s *Slots) Merge(u SlotUpdates) {
	if u.CallerIdentity != "" {
		s.CallerIdentity = u.CallerIdentity
	}
	if u.Intent != "" && u.Intent != IntentUnknown {
		s.Intent = u.Intent
	}
	if u.PreferredDoctor != "" {
		s.PreferredDoctor = u.PreferredDoctor
	}
	if u.PreferredWindow != nil {
		w := *u.PreferredWindow
		s.PreferredWindow = &w
	}
	if u.Relation != "" {
		s.Relation = u.Relation
	}
	if u.Reason != "" {
		s.Reason = u.Reason
	}
	if u.RelatedAppointmentID != "" {
		s.RelatedAppointmentID = u.RelatedAppointmentID
	}
}

// Has reports whether the named slot is filled. Slot names match the
// required-slot configuration table.
func (s *Slots) Has(name string) bool {
	switch name {
	case "callerIdentity":
		return s.CallerIdentity != "" && s.CallerIdentity != "unknown"
	case "intent":
		return s.Intent != "" && s.Intent != IntentUnknown
	case "doctor":
		return s.PreferredDoctor != ""
	case "window":
		return s.PreferredWindow != nil && !s.PreferredWindow.IsZero()
	case "relation":
		return s.Relation != ""
	case "reason":
		return s.Reason != ""
	case "relatedAppointmentId":
		return s.RelatedAppointmentID != ""
	}
	return false
}

// CallSession tracks one active telephone call. A session is created on
// the first inbound webhook for a call identifier and archived on
// termination; it is never revived. A new call always starts fresh.
type CallSession struct {
	ID             string       `json:"id"`
	CallerNumber   string       `json:"callerNumber"` // E.164
	State          SessionState `json:"state"`
	Slots          Slots        `json:"slots"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`

	// PendingAction is the at-most-one candidate action awaiting the
	// caller's confirmation; cleared on commit or rejection.
	PendingAction *AppointmentAction `json:"pendingAction,omitempty"`

	// ActionSeq numbers proposed actions within the call and feeds
	// idempotency key derivation.
	ActionSeq int `json:"actionSeq"`

	TurnCount        int `json:"turnCount"`
	UnknownTurns     int `json:"unknownTurns"`
	DisambigAttempts int `json:"disambigAttempts"`

	// CandidateSlots holds the windows last offered to the caller.
	CandidateSlots []TimeWindow `json:"candidateSlots,omitempty"`

	// CandidatePatients holds patient IDs awaiting disambiguation when
	// several records share the caller number.
	CandidatePatients []string `json:"candidatePatients,omitempty"`
}
