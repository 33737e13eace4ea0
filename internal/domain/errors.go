package domain

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Collaborator faults never reach the caller-facing
// utterance layer raw; the orchestrator maps each kind to a retry, a
// re-prompt, or an escalation utterance.
var (
	// ErrSlotConflict means a booking race was lost: the target window
	// was taken between the availability read and the commit. The caller
	// is re-prompted with fresh options, never silently moved.
	ErrSlotConflict = errors.New("slot conflict")

	// ErrCalendarUnavailable means the calendar collaborator could not
	// answer at all, as opposed to answering with no free slots.
	ErrCalendarUnavailable = errors.New("calendar unavailable")

	// ErrAmbiguousIdentity means multiple patients share the caller
	// number and disambiguation did not converge.
	ErrAmbiguousIdentity = errors.New("ambiguous caller identity")

	// ErrAppointmentNotFound means the referenced appointment does not
	// exist or is not in a state the action allows.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSessionTerminated means a turn arrived for a session already in
	// a terminal state.
	ErrSessionTerminated = errors.New("session terminated")
)

// TransientError marks a collaborator failure worth one bounded retry
// (network fault, timeout).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable collaborator failure.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable collaborator failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// OrphanedError reports a reschedule that cancelled the old appointment
// but failed to book the new one. The old appointment is deliberately
// not resurrected: a visible gap beats a hidden double-booking. Surfaced
// to the operations channel as high priority.
type OrphanedError struct {
	CancelledAppointmentID string
	Err                    error
}

func (e *OrphanedError) Error() string {
	return fmt.Sprintf("reschedule orphaned appointment %s: %v", e.CancelledAppointmentID, e.Err)
}

func (e *OrphanedError) Unwrap() error { return e.Err }
