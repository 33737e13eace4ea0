package domain

import "fmt"

// ActionKind identifies a proposed or committed appointment transition.
type ActionKind string

const (
	ActionBook       ActionKind = "book"
	ActionReschedule ActionKind = "reschedule"
	ActionCancel     ActionKind = "cancel"
	ActionConfirm    ActionKind = "confirm"
)

// AppointmentAction is a candidate state transition produced by the turn
// engine and applied by the executor. The idempotency key is derived
// deterministically from the originating session and action sequence
// number, so a retried commit after an ambiguous collaborator response
// never double-applies side effects.
type AppointmentAction struct {
	Kind                 ActionKind `json:"kind"`
	PatientID            string     `json:"patientId,omitempty"`
	TargetDoctor         string     `json:"targetDoctor,omitempty"`
	Window               TimeWindow `json:"window,omitempty"`
	RelatedAppointmentID string     `json:"relatedAppointmentId,omitempty"`
	Reason               string     `json:"reason,omitempty"`
	IdempotencyKey       string     `json:"idempotencyKey"`
}

// SessionActionKey derives the idempotency key for the n-th action of a
// call session.
func SessionActionKey(sessionID string, seq int) string {
	return fmt.Sprintf("%s:%d", sessionID, seq)
}

// ReminderActionKey derives the idempotency key for an action entering
// through an asynchronous reminder reply, keyed by appointment rather
// than session.
func ReminderActionKey(appointmentID string, kind ActionKind) string {
	return fmt.Sprintf("reminder:%s:%s", appointmentID, kind)
}
