package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
)

// AppointmentStore persists committed appointments. Only the action
// executor writes here.
type AppointmentStore struct {
	db *DB
}

// NewAppointmentStore creates an appointment store using the given database.
func NewAppointmentStore(db *DB) *AppointmentStore {
	return &AppointmentStore{db: db}
}

// Insert stores a newly committed appointment.
func (s *AppointmentStore) Insert(a *domain.Appointment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt

	_, err := s.db.sql.Exec(
		`INSERT INTO appointments (id, patient_id, doctor_id, start_time, end_time, status, reason, notes, calendar_event_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.DoctorID,
		a.StartTime.UTC().Format(time.RFC3339), a.EndTime.UTC().Format(time.RFC3339),
		string(a.Status), a.Reason, a.Notes, a.CalendarEventID,
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting appointment: %w", err)
	}
	return nil
}

// Get returns an appointment by ID, or nil if not found.
func (s *AppointmentStore) Get(id string) (*domain.Appointment, error) {
	row := s.db.sql.QueryRow(selectAppointment+` WHERE id = ?`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// UpdateStatus transitions an appointment's status, appending a note.
func (s *AppointmentStore) UpdateStatus(id string, status domain.AppointmentStatus, note string) error {
	res, err := s.db.sql.Exec(
		`UPDATE appointments
		 SET status = ?, notes = trim(notes || char(10) || ?, char(10)), updated_at = ?
		 WHERE id = ?`,
		string(status), note, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating appointment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAppointmentNotFound
	}
	return nil
}

// ListScheduledByDoctor returns scheduled appointments for a doctor
// overlapping [from, to).
func (s *AppointmentStore) ListScheduledByDoctor(doctorID string, from, to time.Time) ([]domain.Appointment, error) {
	rows, err := s.db.sql.Query(
		selectAppointment+`
		 WHERE doctor_id = ? AND status = 'scheduled' AND start_time < ? AND end_time > ?
		 ORDER BY start_time`,
		doctorID, to.UTC().Format(time.RFC3339), from.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("listing doctor appointments: %w", err)
	}
	return collectAppointments(rows)
}

// ListUpcomingByPatient returns a patient's scheduled appointments
// starting after the given time, soonest first.
func (s *AppointmentStore) ListUpcomingByPatient(patientID string, after time.Time) ([]domain.Appointment, error) {
	rows, err := s.db.sql.Query(
		selectAppointment+`
		 WHERE patient_id = ? AND status = 'scheduled' AND start_time >= ?
		 ORDER BY start_time`,
		patientID, after.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("listing patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

const selectAppointment = `SELECT id, patient_id, doctor_id, start_time, end_time, status, reason, notes, calendar_event_id, created_at, updated_at
	 FROM appointments`

func collectAppointments(rows *sql.Rows) ([]domain.Appointment, error) {
	defer rows.Close()
	var out []domain.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAppointment(r rowScanner) (*domain.Appointment, error) {
	var a domain.Appointment
	var start, end, status, createdAt, updatedAt string
	if err := r.Scan(&a.ID, &a.PatientID, &a.DoctorID, &start, &end, &status,
		&a.Reason, &a.Notes, &a.CalendarEventID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.StartTime, _ = time.Parse(time.RFC3339, start)
	a.EndTime, _ = time.Parse(time.RFC3339, end)
	a.Status = domain.AppointmentStatus(status)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}
