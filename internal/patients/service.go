// Package patients resolves caller identity against patient records.
// Several patients may share a caller number, so identification can
// return multiple candidates; disambiguation is conversational and
// lives in the turn engine.
package patients

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/store"
)

// Service mediates patient lookups and first-contact registration.
type Service struct {
	patients *store.PatientStore
	appts    *store.AppointmentStore
	log      *logging.Logger
}

// NewService creates a patient service over the given stores.
func NewService(patients *store.PatientStore, appts *store.AppointmentStore, log *logging.Logger) *Service {
	return &Service{patients: patients, appts: appts, log: log.Sub("patients")}
}

// Identify returns all active patients registered under the caller
// number. Zero results means a first-time caller; more than one means
// the turn engine must disambiguate.
func (s *Service) Identify(callerNumber string) ([]domain.Patient, error) {
	return s.patients.FindByPhone(callerNumber)
}

// Get returns a patient by ID, or nil.
func (s *Service) Get(id string) (*domain.Patient, error) {
	return s.patients.Get(id)
}

// RegisterCaller creates a new patient record on first contact.
func (s *Service) RegisterCaller(callerNumber, name string) (*domain.Patient, error) {
	p := &domain.Patient{
		ID:          uuid.NewString(),
		PhoneNumber: callerNumber,
		FullName:    name,
		Status:      domain.PatientNew,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.patients.Create(p); err != nil {
		return nil, err
	}
	s.log.Info().Str("patientId", p.ID).Msg("patient registered on first contact")
	return p, nil
}

// MatchByName picks the candidate whose name matches the stated one,
// case-insensitively on any name part. Nil when zero or several match.
func (s *Service) MatchByName(candidates []domain.Patient, stated string) *domain.Patient {
	needle := strings.ToLower(strings.TrimSpace(stated))
	if needle == "" {
		return nil
	}

	var match *domain.Patient
	for i := range candidates {
		if nameMatches(candidates[i].FullName, needle) {
			if match != nil {
				return nil
			}
			match = &candidates[i]
		}
	}
	return match
}

func nameMatches(full, needle string) bool {
	full = strings.ToLower(full)
	if strings.Contains(full, needle) {
		return true
	}
	for _, part := range strings.Fields(needle) {
		if !strings.Contains(full, part) {
			return false
		}
	}
	return true
}

// UpcomingAppointment returns the patient's next scheduled appointment,
// used to resolve "my appointment" for cancel and reschedule.
func (s *Service) UpcomingAppointment(patientID string, now time.Time) (*domain.Appointment, error) {
	appts, err := s.appts.ListUpcomingByPatient(patientID, now)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, nil
	}
	return &appts[0], nil
}

// UpcomingAppointments returns every scheduled future appointment for a
// patient, soonest first.
func (s *Service) UpcomingAppointments(patientID string, now time.Time) ([]domain.Appointment, error) {
	return s.appts.ListUpcomingByPatient(patientID, now)
}
