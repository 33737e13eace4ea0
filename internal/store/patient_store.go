package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
)

// PatientStore persists patient records.
type PatientStore struct {
	db *DB
}

// NewPatientStore creates a patient store using the given database.
func NewPatientStore(db *DB) *PatientStore {
	return &PatientStore{db: db}
}

// Create inserts a new patient record.
func (s *PatientStore) Create(p *domain.Patient) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt

	_, err := s.db.sql.Exec(
		`INSERT INTO patients (id, phone_number, full_name, email, date_of_birth, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PhoneNumber, p.FullName, p.Email, p.DateOfBirth, string(p.Status),
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating patient: %w", err)
	}
	return nil
}

// Get returns a patient by ID, or nil if not found.
func (s *PatientStore) Get(id string) (*domain.Patient, error) {
	row := s.db.sql.QueryRow(
		`SELECT id, phone_number, full_name, email, date_of_birth, status, created_at, updated_at
		 FROM patients WHERE id = ?`, id,
	)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// FindByPhone returns all patients registered under a phone number.
// Family members may share one number, so callers must handle multiple
// results.
func (s *PatientStore) FindByPhone(phone string) ([]domain.Patient, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, phone_number, full_name, email, date_of_birth, status, created_at, updated_at
		 FROM patients WHERE phone_number = ? AND status != 'inactive' ORDER BY created_at`, phone,
	)
	if err != nil {
		return nil, fmt.Errorf("finding patients by phone: %w", err)
	}
	defer rows.Close()

	var out []domain.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Update rewrites a patient's mutable fields.
func (s *PatientStore) Update(p *domain.Patient) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := s.db.sql.Exec(
		`UPDATE patients SET full_name = ?, email = ?, date_of_birth = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		p.FullName, p.Email, p.DateOfBirth, string(p.Status),
		p.UpdatedAt.Format(time.RFC3339), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating patient %s: %w", p.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(r rowScanner) (*domain.Patient, error) {
	var p domain.Patient
	var status, createdAt, updatedAt string
	if err := r.Scan(&p.ID, &p.PhoneNumber, &p.FullName, &p.Email, &p.DateOfBirth,
		&status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = domain.PatientStatus(status)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}
