package store

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent", "json")
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedPatient satisfies the appointments foreign key.
func seedPatient(t *testing.T, db *DB) {
	t.Helper()
	require.NoError(t, NewPatientStore(db).Create(&domain.Patient{
		ID: "pat-1", PhoneNumber: "+15550001111", FullName: "Maria Lopez",
		Status: domain.PatientActive,
	}))
}

func testAppointment(id string, start time.Time) *domain.Appointment {
	return &domain.Appointment{
		ID:        id,
		PatientID: "pat-1",
		DoctorID:  "dr-shah",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    domain.AppointmentScheduled,
		Reason:    "checkup",
	}
}

func TestPatientStoreRoundTrip(t *testing.T) {
	s := NewPatientStore(testDB(t))

	require.NoError(t, s.Create(&domain.Patient{
		ID: "pat-1", PhoneNumber: "+15550001111", FullName: "Maria Lopez",
		Status: domain.PatientActive,
	}))

	p, err := s.Get("pat-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Maria Lopez", p.FullName)
	assert.Equal(t, domain.PatientActive, p.Status)
	assert.False(t, p.CreatedAt.IsZero())

	missing, err := s.Get("pat-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindByPhoneReturnsSharedNumber(t *testing.T) {
	s := NewPatientStore(testDB(t))

	for _, p := range []domain.Patient{
		{ID: "pat-1", PhoneNumber: "+15550001111", FullName: "Maria Lopez", Status: domain.PatientActive},
		{ID: "pat-2", PhoneNumber: "+15550001111", FullName: "Diego Lopez", Status: domain.PatientActive},
		{ID: "pat-3", PhoneNumber: "+15550001111", FullName: "Old Record", Status: domain.PatientInactive},
		{ID: "pat-4", PhoneNumber: "+15550002222", FullName: "Sam Chen", Status: domain.PatientActive},
	} {
		p := p
		require.NoError(t, s.Create(&p))
	}

	found, err := s.FindByPhone("+15550001111")
	require.NoError(t, err)
	require.Len(t, found, 2, "inactive records are excluded")
	assert.Equal(t, "pat-1", found[0].ID)
	assert.Equal(t, "pat-2", found[1].ID)
}

func TestPatientUpdate(t *testing.T) {
	s := NewPatientStore(testDB(t))
	require.NoError(t, s.Create(&domain.Patient{
		ID: "pat-1", PhoneNumber: "+15550001111", Status: domain.PatientNew,
	}))

	p, err := s.Get("pat-1")
	require.NoError(t, err)
	p.FullName = "Maria Lopez"
	p.Status = domain.PatientActive
	require.NoError(t, s.Update(p))

	p, err = s.Get("pat-1")
	require.NoError(t, err)
	assert.Equal(t, "Maria Lopez", p.FullName)
	assert.Equal(t, domain.PatientActive, p.Status)
}

func TestAppointmentStatusTransitions(t *testing.T) {
	db := testDB(t)
	seedPatient(t, db)
	s := NewAppointmentStore(db)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(testAppointment("appt-1", start)))

	require.NoError(t, s.UpdateStatus("appt-1", domain.AppointmentCancelled, "cancelled by patient"))

	a, err := s.Get("appt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentCancelled, a.Status)
	assert.Contains(t, a.Notes, "cancelled by patient")

	assert.ErrorIs(t, s.UpdateStatus("appt-404", domain.AppointmentCancelled, "x"),
		domain.ErrAppointmentNotFound)
}

func TestListScheduledByDoctorOverlap(t *testing.T) {
	db := testDB(t)
	seedPatient(t, db)
	s := NewAppointmentStore(db)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(testAppointment("appt-9am", day.Add(9*time.Hour))))
	require.NoError(t, s.Insert(testAppointment("appt-2pm", day.Add(14*time.Hour))))
	cancelled := testAppointment("appt-gone", day.Add(10*time.Hour))
	cancelled.Status = domain.AppointmentCancelled
	require.NoError(t, s.Insert(cancelled))

	morning, err := s.ListScheduledByDoctor("dr-shah", day.Add(8*time.Hour), day.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, morning, 1)
	assert.Equal(t, "appt-9am", morning[0].ID)

	wholeDay, err := s.ListScheduledByDoctor("dr-shah", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, wholeDay, 2)
}

func TestListUpcomingByPatient(t *testing.T) {
	db := testDB(t)
	seedPatient(t, db)
	s := NewAppointmentStore(db)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(testAppointment("appt-past", now.Add(-24*time.Hour))))
	require.NoError(t, s.Insert(testAppointment("appt-later", now.Add(72*time.Hour))))
	require.NoError(t, s.Insert(testAppointment("appt-soon", now.Add(24*time.Hour))))

	upcoming, err := s.ListUpcomingByPatient("pat-1", now)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, "appt-soon", upcoming[0].ID, "soonest first")
	assert.Equal(t, "appt-later", upcoming[1].ID)
}

func TestReminderDueAndTransitions(t *testing.T) {
	db := testDB(t)
	seedPatient(t, db)
	appts := NewAppointmentStore(db)
	s := NewReminderStore(db)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, appts.Insert(testAppointment("appt-1", now.Add(24*time.Hour))))
	require.NoError(t, s.Insert(&domain.ReminderTask{
		ID: "rem-due", AppointmentID: "appt-1", FireAt: now.Add(-time.Minute),
		Channel: "whatsapp", Status: domain.ReminderPending,
	}))
	require.NoError(t, s.Insert(&domain.ReminderTask{
		ID: "rem-future", AppointmentID: "appt-1", FireAt: now.Add(time.Hour),
		Channel: "whatsapp", Status: domain.ReminderPending,
	}))

	due, err := s.Due(now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "rem-due", due[0].ID)

	require.NoError(t, s.MarkStatus("rem-due", domain.ReminderSent))
	due, err = s.Due(now)
	require.NoError(t, err)
	assert.Empty(t, due, "sent tasks are not re-dispatched")
}

func TestCancelAndAckForAppointment(t *testing.T) {
	db := testDB(t)
	seedPatient(t, db)
	s := NewReminderStore(db)
	now := time.Now().UTC()
	require.NoError(t, NewAppointmentStore(db).Insert(testAppointment("appt-1", now.Add(24*time.Hour))))

	require.NoError(t, s.Insert(&domain.ReminderTask{
		ID: "rem-1", AppointmentID: "appt-1", FireAt: now,
		Channel: "whatsapp", Status: domain.ReminderPending,
	}))
	require.NoError(t, s.Insert(&domain.ReminderTask{
		ID: "rem-2", AppointmentID: "appt-1", FireAt: now,
		Channel: "whatsapp", Status: domain.ReminderSent,
	}))

	require.NoError(t, s.AckForAppointment("appt-1"))
	tasks, err := s.ForAppointment("appt-1")
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, domain.ReminderAcked, task.Status)
	}

	// Acked tasks are final; cancellation leaves them alone.
	require.NoError(t, s.CancelForAppointment("appt-1"))
	tasks, err = s.ForAppointment("appt-1")
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, domain.ReminderAcked, task.Status)
	}
}

func TestLedgerRejectsDuplicateKey(t *testing.T) {
	s := NewLedgerStore(testDB(t))

	require.NoError(t, s.Put(LedgerEntry{
		Key: "call-1:1", Kind: domain.ActionBook, AppointmentID: "appt-1", Outcome: OutcomeOK,
	}))

	e, err := s.Get("call-1:1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, OutcomeOK, e.Outcome)
	assert.Equal(t, domain.ActionBook, e.Kind)

	assert.Error(t, s.Put(LedgerEntry{
		Key: "call-1:1", Kind: domain.ActionCancel, Outcome: OutcomeOK,
	}), "the key is written exactly once")

	unseen, err := s.Get("call-1:2")
	require.NoError(t, err)
	assert.Nil(t, unseen)
}

func TestSessionArchive(t *testing.T) {
	s := NewSessionArchive(testDB(t))

	sess := &domain.CallSession{
		ID:           "call-1",
		CallerNumber: "+15550001111",
		State:        domain.StateTerminated,
		TurnCount:    4,
		CreatedAt:    time.Now().UTC(),
	}
	sess.Slots.CallerIdentity = "pat-1"
	require.NoError(t, s.Archive(sess))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The archive is append-only; the same call never terminates twice.
	assert.Error(t, s.Archive(sess))
}
