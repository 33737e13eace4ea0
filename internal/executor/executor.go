// Package executor applies confirmed appointment actions. It is the
// only writer of appointments, calendar events, and reminder tasks.
// Every commit is guarded by an idempotency ledger and, for bookings,
// a per-doctor lock around the re-validate-then-create window.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/store"
)

// Result reports a commit's outcome. Replayed is set when the
// idempotency ledger already held the key and no side effects ran.
type Result struct {
	Outcome       string
	AppointmentID string
	Replayed      bool
}

// Executor validates and applies appointment actions.
type Executor struct {
	cal       calendar.Calendar
	kb        *knowledge.Base
	appts     *store.AppointmentStore
	reminders *store.ReminderStore
	ledger    *store.LedgerStore
	log       *logging.Logger

	reminderOffsets []time.Duration
	reminderChannel string

	mu          sync.Mutex
	doctorLocks map[string]*sync.Mutex

	now func() time.Time
}

// New creates an executor. Reminder offsets are durations before the
// appointment start at which reminder tasks are scheduled.
func New(cal calendar.Calendar, kb *knowledge.Base, appts *store.AppointmentStore,
	reminders *store.ReminderStore, ledger *store.LedgerStore,
	reminderOffsets []time.Duration, reminderChannel string, log *logging.Logger) *Executor {
	return &Executor{
		cal:             cal,
		kb:              kb,
		appts:           appts,
		reminders:       reminders,
		ledger:          ledger,
		log:             log.Sub("executor"),
		reminderOffsets: reminderOffsets,
		reminderChannel: reminderChannel,
		doctorLocks:     make(map[string]*sync.Mutex),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Commit applies an action exactly once. A replayed idempotency key
// returns the recorded outcome without touching any collaborator. A
// nil error with OutcomeOK means the action took effect; conflict and
// orphaned outcomes are returned as their taxonomy errors alongside the
// ledgered result.
func (e *Executor) Commit(ctx context.Context, action domain.AppointmentAction) (*Result, error) {
	if action.IdempotencyKey == "" {
		return nil, fmt.Errorf("action missing idempotency key")
	}

	entry, err := e.ledger.Get(action.IdempotencyKey)
	if err != nil {
		return nil, domain.Transient("ledger read", err)
	}
	if entry != nil {
		e.log.Info().
			Str("key", action.IdempotencyKey).
			Str("outcome", entry.Outcome).
			Msg("commit replayed from ledger")
		return e.replay(entry)
	}

	switch action.Kind {
	case domain.ActionBook:
		return e.book(ctx, action)
	case domain.ActionCancel:
		return e.cancel(ctx, action)
	case domain.ActionReschedule:
		return e.reschedule(ctx, action)
	case domain.ActionConfirm:
		return e.confirm(ctx, action)
	}
	return nil, fmt.Errorf("unknown action kind %q", action.Kind)
}

func (e *Executor) replay(entry *store.LedgerEntry) (*Result, error) {
	res := &Result{Outcome: entry.Outcome, AppointmentID: entry.AppointmentID, Replayed: true}
	switch entry.Outcome {
	case store.OutcomeConflict:
		return res, domain.ErrSlotConflict
	case store.OutcomeOrphaned:
		return res, &domain.OrphanedError{CancelledAppointmentID: entry.AppointmentID}
	}
	return res, nil
}

// doctorLock serializes the re-validate-then-create window per doctor.
// Two concurrent bookings for the same slot cannot both pass the busy
// check.
func (e *Executor) doctorLock(doctorID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.doctorLocks[doctorID]
	if !ok {
		l = &sync.Mutex{}
		e.doctorLocks[doctorID] = l
	}
	return l
}

func (e *Executor) book(ctx context.Context, action domain.AppointmentAction) (*Result, error) {
	doc := e.kb.DoctorByID(action.TargetDoctor)
	if doc == nil {
		return nil, fmt.Errorf("unknown doctor %q", action.TargetDoctor)
	}

	lock := e.doctorLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	return e.bookLocked(ctx, action, doc, true)
}

// bookLocked runs the booking with the doctor lock already held. The
// calendar is re-read here because availability candidates are
// proposals, not reservations, and may have gone stale. When record is
// false the caller owns the ledger entry for the key.
func (e *Executor) bookLocked(ctx context.Context, action domain.AppointmentAction, doc *knowledge.Doctor, record bool) (*Result, error) {
	busy, err := e.cal.ListBusy(ctx, doc.CalendarID, action.Window.Start, action.Window.End)
	if err != nil {
		return nil, fmt.Errorf("pre-commit validation: %w", err)
	}
	conflict := overlapsAny(action.Window, busy)

	if !conflict {
		local, err := e.appts.ListScheduledByDoctor(doc.ID, action.Window.Start, action.Window.End)
		if err != nil {
			return nil, domain.Transient("appointment overlap check", err)
		}
		conflict = len(local) > 0
	}

	if conflict {
		if record {
			if err := e.ledger.Put(store.LedgerEntry{
				Key: action.IdempotencyKey, Kind: action.Kind, Outcome: store.OutcomeConflict,
			}); err != nil {
				return nil, domain.Transient("ledger write", err)
			}
		}
		e.log.Warn().
			Str("doctor", doc.ID).
			Time("start", action.Window.Start).
			Msg("booking lost slot race")
		return &Result{Outcome: store.OutcomeConflict}, domain.ErrSlotConflict
	}

	eventID, err := e.cal.CreateEvent(ctx, doc.CalendarID, calendar.Event{
		Summary:     "Clinic appointment",
		Description: action.Reason,
		Start:       action.Window.Start,
		End:         action.Window.End,
	})
	if err != nil {
		// Not ledgered: a retry with the same key may still succeed.
		return nil, fmt.Errorf("creating calendar event: %w", err)
	}

	appt := &domain.Appointment{
		ID:              uuid.NewString(),
		PatientID:       action.PatientID,
		DoctorID:        doc.ID,
		StartTime:       action.Window.Start,
		EndTime:         action.Window.End,
		Status:          domain.AppointmentScheduled,
		Reason:          action.Reason,
		CalendarEventID: eventID,
	}
	if err := e.appts.Insert(appt); err != nil {
		return nil, domain.Transient("appointment insert", err)
	}

	e.scheduleReminders(appt)

	if record {
		if err := e.ledger.Put(store.LedgerEntry{
			Key: action.IdempotencyKey, Kind: action.Kind,
			AppointmentID: appt.ID, Outcome: store.OutcomeOK,
		}); err != nil {
			return nil, domain.Transient("ledger write", err)
		}
	}

	e.log.Info().
		Str("appointmentId", appt.ID).
		Str("doctor", doc.ID).
		Time("start", appt.StartTime).
		Msg("appointment booked")
	return &Result{Outcome: store.OutcomeOK, AppointmentID: appt.ID}, nil
}

// scheduleReminders creates pending reminder tasks for each configured
// offset still in the future. Reminder creation is best effort; a
// failed task never rolls back the booking.
func (e *Executor) scheduleReminders(appt *domain.Appointment) {
	now := e.now()
	for _, offset := range e.reminderOffsets {
		fireAt := appt.StartTime.Add(-offset)
		if !fireAt.After(now) {
			continue
		}
		task := &domain.ReminderTask{
			ID:            uuid.NewString(),
			AppointmentID: appt.ID,
			FireAt:        fireAt,
			Channel:       e.reminderChannel,
			Status:        domain.ReminderPending,
		}
		if err := e.reminders.Insert(task); err != nil {
			e.log.Error().Err(err).Str("appointmentId", appt.ID).Msg("reminder scheduling failed")
		}
	}
}

func (e *Executor) cancel(ctx context.Context, action domain.AppointmentAction) (*Result, error) {
	appt, err := e.loadScheduled(action.RelatedAppointmentID)
	if err != nil {
		return nil, err
	}

	if err := e.cancelAppointment(ctx, appt, "cancelled by patient"); err != nil {
		return nil, err
	}

	if err := e.ledger.Put(store.LedgerEntry{
		Key: action.IdempotencyKey, Kind: action.Kind,
		AppointmentID: appt.ID, Outcome: store.OutcomeOK,
	}); err != nil {
		return nil, domain.Transient("ledger write", err)
	}

	e.log.Info().Str("appointmentId", appt.ID).Msg("appointment cancelled")
	return &Result{Outcome: store.OutcomeOK, AppointmentID: appt.ID}, nil
}

// cancelAppointment removes the calendar event first, then transitions
// the record and expires its reminders. Event deletion is idempotent,
// so a retry after a partial failure converges.
func (e *Executor) cancelAppointment(ctx context.Context, appt *domain.Appointment, note string) error {
	doc := e.kb.DoctorByID(appt.DoctorID)
	if doc != nil && appt.CalendarEventID != "" {
		if err := e.cal.CancelEvent(ctx, doc.CalendarID, appt.CalendarEventID); err != nil {
			return fmt.Errorf("cancelling calendar event: %w", err)
		}
	}

	if err := e.appts.UpdateStatus(appt.ID, domain.AppointmentCancelled, note); err != nil {
		return err
	}
	if err := e.reminders.CancelForAppointment(appt.ID); err != nil {
		e.log.Error().Err(err).Str("appointmentId", appt.ID).Msg("reminder expiry failed")
	}
	return nil
}

// reschedule is cancel-old-then-book-new under one idempotency key.
// When the new booking fails after the old one is gone, the old
// appointment is not resurrected; the orphaned outcome is ledgered and
// surfaced for operator follow-up.
func (e *Executor) reschedule(ctx context.Context, action domain.AppointmentAction) (*Result, error) {
	old, err := e.loadScheduled(action.RelatedAppointmentID)
	if err != nil {
		return nil, err
	}

	doctorID := action.TargetDoctor
	if doctorID == "" {
		doctorID = old.DoctorID
	}
	doc := e.kb.DoctorByID(doctorID)
	if doc == nil {
		return nil, fmt.Errorf("unknown doctor %q", doctorID)
	}

	if err := e.cancelAppointment(ctx, old, "rescheduled"); err != nil {
		return nil, err
	}

	bookAction := action
	bookAction.Kind = domain.ActionBook
	bookAction.TargetDoctor = doc.ID
	if bookAction.PatientID == "" {
		bookAction.PatientID = old.PatientID
	}
	if bookAction.Reason == "" {
		bookAction.Reason = old.Reason
	}

	lock := e.doctorLock(doc.ID)
	lock.Lock()
	res, err := e.bookLocked(ctx, bookAction, doc, false)
	lock.Unlock()
	if err != nil {
		// A conflict or fault at this point already lost the old
		// appointment. Deliberately not resurrected: a visible gap beats
		// a hidden double-booking.
		orphaned := &domain.OrphanedError{CancelledAppointmentID: old.ID, Err: err}
		if lerr := e.ledger.Put(store.LedgerEntry{
			Key: action.IdempotencyKey, Kind: domain.ActionReschedule,
			AppointmentID: old.ID, Outcome: store.OutcomeOrphaned,
		}); lerr != nil {
			e.log.Error().Err(lerr).Msg("orphaned outcome not ledgered")
		}
		e.log.Error().
			Str("cancelledAppointmentId", old.ID).
			Err(err).
			Msg("reschedule orphaned an appointment")
		return &Result{Outcome: store.OutcomeOrphaned, AppointmentID: old.ID}, orphaned
	}

	if err := e.ledger.Put(store.LedgerEntry{
		Key: action.IdempotencyKey, Kind: domain.ActionReschedule,
		AppointmentID: res.AppointmentID, Outcome: store.OutcomeOK,
	}); err != nil {
		return nil, domain.Transient("ledger write", err)
	}

	e.log.Info().
		Str("oldAppointmentId", old.ID).
		Str("newAppointmentId", res.AppointmentID).
		Msg("appointment rescheduled")
	return res, nil
}

func (e *Executor) confirm(ctx context.Context, action domain.AppointmentAction) (*Result, error) {
	appt, err := e.loadScheduled(action.RelatedAppointmentID)
	if err != nil {
		return nil, err
	}

	if err := e.reminders.AckForAppointment(appt.ID); err != nil {
		return nil, domain.Transient("reminder ack", err)
	}
	if err := e.appts.UpdateStatus(appt.ID, domain.AppointmentScheduled, "confirmed by patient"); err != nil {
		return nil, err
	}

	if err := e.ledger.Put(store.LedgerEntry{
		Key: action.IdempotencyKey, Kind: action.Kind,
		AppointmentID: appt.ID, Outcome: store.OutcomeOK,
	}); err != nil {
		return nil, domain.Transient("ledger write", err)
	}

	e.log.Info().Str("appointmentId", appt.ID).Msg("appointment confirmed")
	return &Result{Outcome: store.OutcomeOK, AppointmentID: appt.ID}, nil
}

func (e *Executor) loadScheduled(id string) (*domain.Appointment, error) {
	if id == "" {
		return nil, domain.ErrAppointmentNotFound
	}
	appt, err := e.appts.Get(id)
	if err != nil {
		return nil, domain.Transient("appointment read", err)
	}
	if appt == nil || appt.Status != domain.AppointmentScheduled {
		return nil, domain.ErrAppointmentNotFound
	}
	return appt, nil
}

func overlapsAny(w domain.TimeWindow, busy []domain.TimeWindow) bool {
	for _, b := range busy {
		if w.Overlaps(b) {
			return true
		}
	}
	return false
}
