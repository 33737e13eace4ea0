package domain

import "time"

// AppointmentStatus is the lifecycle status of a committed appointment.
// Transitions are monotonic: a reschedule is modeled as cancel-old plus
// create-new, never an in-place time mutation.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// Appointment is the committed, calendar-backed entity. Mutated only by
// the action executor.
type Appointment struct {
	ID              string            `json:"id"`
	PatientID       string            `json:"patientId"`
	DoctorID        string            `json:"doctorId"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         time.Time         `json:"endTime"`
	Status          AppointmentStatus `json:"status"`
	Reason          string            `json:"reason,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	CalendarEventID string            `json:"calendarEventId,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Window returns the appointment's time range.
func (a *Appointment) Window() TimeWindow {
	return TimeWindow{Start: a.StartTime, End: a.EndTime}
}

// PatientStatus classifies a patient record.
type PatientStatus string

const (
	PatientNew      PatientStatus = "new"
	PatientActive   PatientStatus = "active"
	PatientInactive PatientStatus = "inactive"
)

// Patient is an identity record owned by the persistence layer. Multiple
// patients may share one phone number (family members); disambiguation
// is the turn engine's job.
type Patient struct {
	ID          string        `json:"id"`
	PhoneNumber string        `json:"phoneNumber"` // E.164
	FullName    string        `json:"fullName,omitempty"`
	Email       string        `json:"email,omitempty"`
	DateOfBirth string        `json:"dateOfBirth,omitempty"` // YYYY-MM-DD
	Status      PatientStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
