package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvail/frontdesk/internal/alert"
	"github.com/mvail/frontdesk/internal/availability"
	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/executor"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/nlu"
	"github.com/mvail/frontdesk/internal/patients"
	"github.com/mvail/frontdesk/internal/store"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent", "json")
}

type fixture struct {
	orch      *Orchestrator
	classer   *nlu.Mock
	cal       *calendar.Memory
	appts     *store.AppointmentStore
	reminders *store.ReminderStore
	archive   *store.SessionArchive
	notifier  *alert.Memory
}

func allWeek(start, end string) map[string][]knowledge.HourRange {
	days := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	out := make(map[string][]knowledge.HourRange, len(days))
	for _, d := range days {
		out[d] = []knowledge.HourRange{{Start: start, End: end}}
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := silentLog()

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kb := knowledge.NewFromInfo(knowledge.ClinicInfo{
		ClinicName: "Riverside Clinic",
		Doctors: []knowledge.Doctor{
			{ID: "dr-shah", Name: "Dr. Anita Shah", CalendarID: "cal-shah", WorkingHours: allWeek("09:00", "17:00")},
		},
	}, log)

	dialog := config.DialogConfig{
		MaxUnknownTurns:        2,
		MaxDisambigAttempts:    2,
		DefaultDurationMinutes: 30,
		MaxCandidateSlots:      3,
		SlotGranularityMinutes: 30,
	}

	f := &fixture{
		classer:   nlu.NewMock(),
		cal:       calendar.NewMemory(),
		appts:     store.NewAppointmentStore(db),
		reminders: store.NewReminderStore(db),
		archive:   store.NewSessionArchive(db),
		notifier:  alert.NewMemory(),
	}
	patientStore := store.NewPatientStore(db)
	require.NoError(t, patientStore.Create(&domain.Patient{
		ID: "pat-1", PhoneNumber: "+15550001111", FullName: "Maria Lopez",
		Status: domain.PatientActive,
	}))

	exec := executor.New(f.cal, kb, f.appts, f.reminders, store.NewLedgerStore(db),
		[]time.Duration{24 * time.Hour}, "whatsapp", log)

	f.orch = New(Deps{
		Classifier:   f.classer,
		Resolver:     availability.New(f.cal, dialog, log),
		Executor:     exec,
		Patients:     patients.NewService(patientStore, f.appts, log),
		Appointments: f.appts,
		Archive:      f.archive,
		Knowledge:    kb,
		Notifier:     f.notifier,
		Dialog:       dialog,
		Retry:        config.RetryConfig{Availability: 1, Commit: 1, CollaboratorTimeoutSeconds: 5},
		Session:      config.SessionConfig{IdleMinutes: 5},
		Log:          log,
	})
	return f
}

// bookingWindow is a morning window a few days out, inside the test
// doctor's working hours on any weekday.
func bookingWindow() *domain.TimeWindow {
	day := time.Now().UTC().AddDate(0, 0, 3)
	start := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)
	return &domain.TimeWindow{Start: start, End: start.Add(3 * time.Hour)}
}

func bookRequest() *nlu.Result {
	return &nlu.Result{
		Intent: domain.IntentBook,
		Slots: domain.SlotUpdates{
			Intent:          domain.IntentBook,
			PreferredDoctor: "Shah",
			PreferredWindow: bookingWindow(),
			Reason:          "fever",
		},
	}
}

func TestScenarioABookHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	greeting, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)
	assert.Contains(t, greeting, "Riverside Clinic")

	f.classer.Enqueue(bookRequest(), &nlu.Result{Affirmation: nlu.AffirmYes})

	reply, err := f.orch.HandleUtterance(ctx, "call-1", "book a visit with Dr. Shah, I have a fever")
	require.NoError(t, err)
	assert.Contains(t, reply, "Dr. Anita Shah")
	assert.Contains(t, reply, "Shall I book")

	reply, err = f.orch.HandleUtterance(ctx, "call-1", "yes")
	require.NoError(t, err)
	assert.Contains(t, reply, "booked")

	win := bookingWindow()
	appts, err := f.appts.ListScheduledByDoctor("dr-shah", win.Start, win.End)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "pat-1", appts[0].PatientID)
	assert.Equal(t, win.Start, appts[0].StartTime, "nearest candidate wins")

	tasks, err := f.reminders.ForAppointment(appts[0].ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, appts[0].StartTime.Add(-24*time.Hour), tasks[0].FireAt)
}

func TestScenarioBConflictReprompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	win := bookingWindow()

	_, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	f.classer.Enqueue(bookRequest(), &nlu.Result{Affirmation: nlu.AffirmYes})

	_, err = f.orch.HandleUtterance(ctx, "call-1", "book with Dr. Shah")
	require.NoError(t, err)

	// A concurrent call takes the proposed slot between proposal and
	// confirmation.
	f.cal.Seed("cal-shah", win.Start, win.Start.Add(30*time.Minute))

	reply, err := f.orch.HandleUtterance(ctx, "call-1", "yes")
	require.NoError(t, err)
	assert.Contains(t, reply, "just taken")

	appts, err := f.appts.ListScheduledByDoctor("dr-shah", win.Start, win.End)
	require.NoError(t, err)
	assert.Empty(t, appts, "losing booking must not create an appointment")

	sessions := f.orch.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.StateCollecting, sessions[0].State, "conversation continues")
}

func TestScenarioCCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	win := bookingWindow()

	// Existing booking for the caller.
	exec := f.orch.exec
	booked, err := exec.Commit(ctx, domain.AppointmentAction{
		Kind: domain.ActionBook, PatientID: "pat-1", TargetDoctor: "dr-shah",
		Window:         domain.TimeWindow{Start: win.Start, End: win.Start.Add(30 * time.Minute)},
		IdempotencyKey: "seed:1",
	})
	require.NoError(t, err)

	_, err = f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	f.classer.Enqueue(
		&nlu.Result{Intent: domain.IntentCancel, Slots: domain.SlotUpdates{Intent: domain.IntentCancel}},
		&nlu.Result{Affirmation: nlu.AffirmYes},
	)

	reply, err := f.orch.HandleUtterance(ctx, "call-1", "cancel my appointment")
	require.NoError(t, err)
	assert.Contains(t, reply, "cancel")

	reply, err = f.orch.HandleUtterance(ctx, "call-1", "yes")
	require.NoError(t, err)
	assert.Contains(t, reply, "cancelled")

	appt, err := f.appts.Get(booked.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentCancelled, appt.Status)

	tasks, err := f.reminders.ForAppointment(booked.AppointmentID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, domain.ReminderExpired, task.Status)
	}
}

func TestScenarioDResolverFailureEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	f.cal.FailListBusy = true
	f.classer.Enqueue(bookRequest())

	reply, err := f.orch.HandleUtterance(ctx, "call-1", "book with Dr. Shah tomorrow")
	require.NoError(t, err)
	assert.Contains(t, reply, "staff")

	sessions := f.orch.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.StateEscalated, sessions[0].State)

	win := bookingWindow()
	appts, err := f.appts.ListScheduledByDoctor("dr-shah", win.Start, win.End)
	require.NoError(t, err)
	assert.Empty(t, appts, "no domain action attempted")

	// The call stays alive for transfer.
	reply, err = f.orch.HandleUtterance(ctx, "call-1", "hello?")
	require.NoError(t, err)
	assert.Contains(t, reply, "hold")
}

func TestReplayedCallProducesIdenticalOutcome(t *testing.T) {
	run := func(t *testing.T) domain.Appointment {
		f := newFixture(t)
		ctx := context.Background()

		_, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
		require.NoError(t, err)
		f.classer.Enqueue(bookRequest(), &nlu.Result{Affirmation: nlu.AffirmYes})

		_, err = f.orch.HandleUtterance(ctx, "call-1", "book with Dr. Shah")
		require.NoError(t, err)
		_, err = f.orch.HandleUtterance(ctx, "call-1", "yes")
		require.NoError(t, err)

		win := bookingWindow()
		appts, err := f.appts.ListScheduledByDoctor("dr-shah", win.Start, win.End)
		require.NoError(t, err)
		require.Len(t, appts, 1)
		return appts[0]
	}

	first := run(t)
	second := run(t)
	assert.Equal(t, first.StartTime, second.StartTime)
	assert.Equal(t, first.EndTime, second.EndTime)
	assert.Equal(t, first.DoctorID, second.DoctorID)
	assert.Equal(t, first.PatientID, second.PatientID)
}

func TestGoodbyeArchivesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	f.classer.Enqueue(&nlu.Result{Goodbye: true})
	reply, err := f.orch.HandleUtterance(ctx, "call-1", "that's all, goodbye")
	require.NoError(t, err)
	assert.Contains(t, reply, "Goodbye")

	assert.Empty(t, f.orch.Sessions())
	n, err := f.archive.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.orch.HandleUtterance(ctx, "call-1", "hello again")
	assert.ErrorIs(t, err, domain.ErrSessionTerminated)
}

func TestHangupTerminatesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)
	require.NoError(t, f.orch.EndCall(ctx, "call-1"))

	assert.Empty(t, f.orch.Sessions())
	n, err := f.archive.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIdleSweepTerminates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	f.orch.Sweep(time.Now().UTC().Add(10 * time.Minute))
	assert.Empty(t, f.orch.Sessions())
}

func TestUnknownTurnsEventuallyEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	// The mock returns unknown once the script is exhausted.
	for i := 0; i < 3; i++ {
		_, err = f.orch.HandleUtterance(ctx, "call-1", "mumble")
		require.NoError(t, err)
	}

	sessions := f.orch.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.StateEscalated, sessions[0].State)
}

func TestSharedNumberDisambiguation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Second family member on the same number.
	p2, err := f.orch.patients.RegisterCaller("+15550001111", "Diego Lopez")
	require.NoError(t, err)

	_, err = f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	f.classer.Enqueue(
		&nlu.Result{Intent: domain.IntentUnknown},
		&nlu.Result{Intent: domain.IntentUnknown, PatientName: "Diego"},
	)

	reply, err := f.orch.HandleUtterance(ctx, "call-1", "hi")
	require.NoError(t, err)
	assert.Contains(t, reply, "Who am I speaking with")

	_, err = f.orch.HandleUtterance(ctx, "call-1", "this is Diego")
	require.NoError(t, err)

	sessions := f.orch.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, p2.ID, sessions[0].Slots.CallerIdentity)
}

func TestOrphanedRescheduleNotifiesOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	win := bookingWindow()

	exec := f.orch.exec
	booked, err := exec.Commit(ctx, domain.AppointmentAction{
		Kind: domain.ActionBook, PatientID: "pat-1", TargetDoctor: "dr-shah",
		Window:         domain.TimeWindow{Start: win.Start, End: win.Start.Add(30 * time.Minute)},
		IdempotencyKey: "seed:1",
	})
	require.NoError(t, err)

	_, err = f.orch.StartCall(ctx, "call-1", "+15550001111")
	require.NoError(t, err)

	newWin := &domain.TimeWindow{Start: win.Start.Add(2 * time.Hour), End: win.Start.Add(4 * time.Hour)}
	f.classer.Enqueue(
		&nlu.Result{
			Intent: domain.IntentReschedule,
			Slots: domain.SlotUpdates{
				Intent:          domain.IntentReschedule,
				PreferredWindow: newWin,
			},
		},
		&nlu.Result{Affirmation: nlu.AffirmYes},
	)

	reply, err := f.orch.HandleUtterance(ctx, "call-1", "move my appointment to later that day")
	require.NoError(t, err)
	assert.Contains(t, reply, "move your appointment")

	// The proposed slot fills up and calendar writes start failing
	// after the old appointment is released.
	f.cal.Seed("cal-shah", newWin.Start, newWin.End.Add(4*time.Hour))

	reply, err = f.orch.HandleUtterance(ctx, "call-1", "yes")
	require.NoError(t, err)
	assert.Contains(t, reply, "staff")

	old, err := f.appts.Get(booked.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentCancelled, old.Status, "old appointment stays cancelled")

	require.NotEmpty(t, f.notifier.Alerts())
	assert.Contains(t, f.notifier.Alerts()[0], "orphaned")
}
