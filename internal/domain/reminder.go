package domain

import "time"

// ReminderStatus is the delivery status of a reminder task. Delivery
// confirmation from the messaging collaborator is best-effort, so a
// dispatched task is tracked as sent, not delivered.
type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderAcked   ReminderStatus = "acked"
	ReminderExpired ReminderStatus = "expired"
)

// ReminderTask is a scheduled outbound reminder for an appointment.
// Created when an appointment reaches scheduled, cancelled when it
// leaves scheduled.
type ReminderTask struct {
	ID            string         `json:"id"`
	AppointmentID string         `json:"appointmentId"`
	FireAt        time.Time      `json:"fireAt"`
	Channel       string         `json:"channel"` // "whatsapp", "sms", "email"
	Status        ReminderStatus `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
