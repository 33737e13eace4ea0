package reminder

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/executor"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/messaging"
	"github.com/mvail/frontdesk/internal/store"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent", "json")
}

type fixture struct {
	sched     *Scheduler
	exec      *executor.Executor
	reminders *store.ReminderStore
	appts     *store.AppointmentStore
	messenger *messaging.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := silentLog()

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kb := knowledge.NewFromInfo(knowledge.ClinicInfo{
		ClinicName: "Riverside Clinic",
		Doctors:    []knowledge.Doctor{{ID: "dr-shah", Name: "Dr. Anita Shah", CalendarID: "cal-shah"}},
	}, log)

	f := &fixture{
		reminders: store.NewReminderStore(db),
		appts:     store.NewAppointmentStore(db),
		messenger: messaging.NewMock(),
	}
	patientStore := store.NewPatientStore(db)
	require.NoError(t, patientStore.Create(&domain.Patient{
		ID: "pat-1", PhoneNumber: "+15550001111", FullName: "Maria Lopez",
		Status: domain.PatientActive,
	}))

	f.exec = executor.New(calendar.NewMemory(), kb, f.appts, f.reminders,
		store.NewLedgerStore(db), []time.Duration{24 * time.Hour}, "whatsapp", log)
	f.sched = New(f.reminders, f.appts, patientStore, f.exec, f.messenger, kb,
		30*time.Second, log)
	return f
}

func (f *fixture) book(t *testing.T, start time.Time) string {
	t.Helper()
	res, err := f.exec.Commit(context.Background(), domain.AppointmentAction{
		Kind: domain.ActionBook, PatientID: "pat-1", TargetDoctor: "dr-shah",
		Window:         domain.TimeWindow{Start: start, End: start.Add(30 * time.Minute)},
		IdempotencyKey: "seed:" + start.String(),
	})
	require.NoError(t, err)
	return res.AppointmentID
}

func TestScanDispatchesDueReminder(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)
	apptID := f.book(t, start)

	// Before the offset elapses, nothing fires.
	f.sched.ScanOnce(context.Background(), start.Add(-25*time.Hour))
	assert.Empty(t, f.messenger.Messages())

	f.sched.ScanOnce(context.Background(), start.Add(-23*time.Hour))
	msgs := f.messenger.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+15550001111", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "Dr. Anita Shah")
	assert.Contains(t, msgs[0].Body, "CONFIRM "+apptID)

	tasks, err := f.reminders.ForAppointment(apptID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.ReminderSent, tasks[0].Status)

	// A later scan does not resend.
	f.sched.ScanOnce(context.Background(), start.Add(-22*time.Hour))
	assert.Len(t, f.messenger.Messages(), 1)
}

func TestScanExpiresTaskForCancelledAppointment(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)
	apptID := f.book(t, start)

	require.NoError(t, f.appts.UpdateStatus(apptID, domain.AppointmentCancelled, "test"))

	f.sched.ScanOnce(context.Background(), start.Add(-23*time.Hour))
	assert.Empty(t, f.messenger.Messages())

	tasks, err := f.reminders.ForAppointment(apptID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderExpired, tasks[0].Status)
}

func TestScanLeavesTaskPendingOnSendFailure(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)
	apptID := f.book(t, start)

	f.messenger.Err = assert.AnError
	f.sched.ScanOnce(context.Background(), start.Add(-23*time.Hour))

	tasks, err := f.reminders.ForAppointment(apptID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderPending, tasks[0].Status, "failed dispatch retries next scan")

	f.messenger.Err = nil
	f.sched.ScanOnce(context.Background(), start.Add(-22*time.Hour))
	tasks, err = f.reminders.ForAppointment(apptID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderSent, tasks[0].Status)
}

func TestParseReply(t *testing.T) {
	kind, id, ok := ParseReply("CONFIRM appt-12")
	require.True(t, ok)
	assert.Equal(t, domain.ActionConfirm, kind)
	assert.Equal(t, "appt-12", id)

	kind, id, ok = ParseReply("please cancel appt-9, thanks")
	require.True(t, ok)
	assert.Equal(t, domain.ActionCancel, kind)
	assert.Equal(t, "appt-9", id)

	_, _, ok = ParseReply("see you tomorrow")
	assert.False(t, ok)

	_, _, ok = ParseReply("CONFIRM")
	assert.False(t, ok)
}

func TestApplyReplyConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)
	apptID := f.book(t, start)

	require.NoError(t, f.sched.ApplyReply(context.Background(), "CONFIRM "+apptID))
	require.NoError(t, f.sched.ApplyReply(context.Background(), "CONFIRM "+apptID))

	tasks, err := f.reminders.ForAppointment(apptID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderAcked, tasks[0].Status)
}

func TestApplyReplyCancel(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)
	apptID := f.book(t, start)

	require.NoError(t, f.sched.ApplyReply(context.Background(), "CANCEL "+apptID))

	appt, err := f.appts.Get(apptID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentCancelled, appt.Status)
}
