package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
)

// ReminderStore persists reminder tasks.
type ReminderStore struct {
	db *DB
}

// NewReminderStore creates a reminder store using the given database.
func NewReminderStore(db *DB) *ReminderStore {
	return &ReminderStore{db: db}
}

// Insert stores a new reminder task.
func (s *ReminderStore) Insert(t *domain.ReminderTask) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt

	_, err := s.db.sql.Exec(
		`INSERT INTO reminder_tasks (id, appointment_id, fire_at, channel, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AppointmentID, t.FireAt.UTC().Format(time.RFC3339),
		t.Channel, string(t.Status),
		t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reminder task: %w", err)
	}
	return nil
}

// Due returns pending tasks whose fire time has elapsed.
func (s *ReminderStore) Due(now time.Time) ([]domain.ReminderTask, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, appointment_id, fire_at, channel, status, created_at, updated_at
		 FROM reminder_tasks
		 WHERE status = 'pending' AND fire_at <= ?
		 ORDER BY fire_at`,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("querying due reminders: %w", err)
	}
	return collectReminders(rows)
}

// MarkStatus transitions a single task.
func (s *ReminderStore) MarkStatus(id string, status domain.ReminderStatus) error {
	_, err := s.db.sql.Exec(
		`UPDATE reminder_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating reminder %s: %w", id, err)
	}
	return nil
}

// CancelForAppointment expires every unfinished task for an appointment.
// Called when the appointment leaves scheduled.
func (s *ReminderStore) CancelForAppointment(appointmentID string) error {
	_, err := s.db.sql.Exec(
		`UPDATE reminder_tasks SET status = 'expired', updated_at = ?
		 WHERE appointment_id = ? AND status IN ('pending', 'sent')`,
		time.Now().UTC().Format(time.RFC3339), appointmentID,
	)
	if err != nil {
		return fmt.Errorf("cancelling reminders for appointment %s: %w", appointmentID, err)
	}
	return nil
}

// AckForAppointment marks an appointment's sent or pending tasks as
// acknowledged by the patient.
func (s *ReminderStore) AckForAppointment(appointmentID string) error {
	_, err := s.db.sql.Exec(
		`UPDATE reminder_tasks SET status = 'acked', updated_at = ?
		 WHERE appointment_id = ? AND status IN ('pending', 'sent')`,
		time.Now().UTC().Format(time.RFC3339), appointmentID,
	)
	if err != nil {
		return fmt.Errorf("acking reminders for appointment %s: %w", appointmentID, err)
	}
	return nil
}

// ForAppointment returns every task for an appointment.
func (s *ReminderStore) ForAppointment(appointmentID string) ([]domain.ReminderTask, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, appointment_id, fire_at, channel, status, created_at, updated_at
		 FROM reminder_tasks WHERE appointment_id = ? ORDER BY fire_at`,
		appointmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reminders for appointment %s: %w", appointmentID, err)
	}
	return collectReminders(rows)
}

func collectReminders(rows *sql.Rows) ([]domain.ReminderTask, error) {
	defer rows.Close()
	var out []domain.ReminderTask
	for rows.Next() {
		var t domain.ReminderTask
		var fireAt, status, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.AppointmentID, &fireAt, &t.Channel, &status,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.FireAt, _ = time.Parse(time.RFC3339, fireAt)
		t.Status = domain.ReminderStatus(status)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}
