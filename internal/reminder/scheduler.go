// Package reminder dispatches appointment reminders outside any live
// call and feeds asynchronous confirm/cancel replies back through the
// action executor, keyed by appointment rather than session.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/executor"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/messaging"
	"github.com/mvail/frontdesk/internal/store"
)

// Scheduler scans due reminder tasks and dispatches them.
type Scheduler struct {
	reminders *store.ReminderStore
	appts     *store.AppointmentStore
	patients  *store.PatientStore
	exec      *executor.Executor
	messenger messaging.Messenger
	kb        *knowledge.Base
	log       *logging.Logger

	interval time.Duration
	now      func() time.Time
}

// New creates a reminder scheduler.
func New(reminders *store.ReminderStore, appts *store.AppointmentStore,
	patients *store.PatientStore, exec *executor.Executor,
	messenger messaging.Messenger, kb *knowledge.Base,
	interval time.Duration, log *logging.Logger) *Scheduler {
	return &Scheduler{
		reminders: reminders,
		appts:     appts,
		patients:  patients,
		exec:      exec,
		messenger: messenger,
		kb:        kb,
		log:       log.Sub("reminder"),
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run scans periodically until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("reminder scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reminder scheduler stopped")
			return
		case t := <-ticker.C:
			s.ScanOnce(ctx, t.UTC())
		}
	}
}

// ScanOnce dispatches every due pending task. A task whose appointment
// is gone, no longer scheduled, or already started is expired instead.
func (s *Scheduler) ScanOnce(ctx context.Context, now time.Time) {
	due, err := s.reminders.Due(now)
	if err != nil {
		s.log.Error().Err(err).Msg("due scan failed")
		return
	}

	for _, task := range due {
		if err := s.dispatch(ctx, task, now); err != nil {
			s.log.Error().Err(err).Str("taskId", task.ID).Msg("reminder dispatch failed")
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, task domain.ReminderTask, now time.Time) error {
	appt, err := s.appts.Get(task.AppointmentID)
	if err != nil {
		return err
	}
	if appt == nil || appt.Status != domain.AppointmentScheduled || !appt.StartTime.After(now) {
		return s.reminders.MarkStatus(task.ID, domain.ReminderExpired)
	}

	patient, err := s.patients.Get(appt.PatientID)
	if err != nil {
		return err
	}
	if patient == nil || patient.PhoneNumber == "" {
		s.log.Warn().Str("appointmentId", appt.ID).Msg("no reachable patient, expiring reminder")
		return s.reminders.MarkStatus(task.ID, domain.ReminderExpired)
	}

	if err := s.messenger.Send(ctx, patient.PhoneNumber, s.compose(appt)); err != nil {
		// Stays pending; the next scan retries.
		return err
	}
	if err := s.reminders.MarkStatus(task.ID, domain.ReminderSent); err != nil {
		return err
	}
	s.log.Info().
		Str("taskId", task.ID).
		Str("appointmentId", appt.ID).
		Str("channel", task.Channel).
		Msg("reminder sent")
	return nil
}

func (s *Scheduler) compose(appt *domain.Appointment) string {
	doctor := appt.DoctorID
	if d := s.kb.DoctorByID(appt.DoctorID); d != nil {
		doctor = d.Name
	}
	clinic := s.kb.Info().ClinicName
	if clinic == "" {
		clinic = "the clinic"
	}
	return fmt.Sprintf(
		"Reminder from %s: you have an appointment with %s on %s. Reply CONFIRM %s to confirm or CANCEL %s to cancel.",
		clinic, doctor, appt.StartTime.Format("Monday, January 2 at 3:04 PM"), appt.ID, appt.ID)
}

// ApplyReply feeds a confirm/cancel reply through the executor under
// the appointment-scoped idempotency key, so a re-delivered reply never
// double-applies.
func (s *Scheduler) ApplyReply(ctx context.Context, text string) error {
	kind, appointmentID, ok := ParseReply(text)
	if !ok {
		return fmt.Errorf("unrecognized reminder reply")
	}

	_, err := s.exec.Commit(ctx, domain.AppointmentAction{
		Kind:                 kind,
		RelatedAppointmentID: appointmentID,
		IdempotencyKey:       domain.ReminderActionKey(appointmentID, kind),
	})
	if err != nil {
		return fmt.Errorf("applying reminder reply: %w", err)
	}
	s.log.Info().
		Str("appointmentId", appointmentID).
		Str("kind", string(kind)).
		Msg("reminder reply applied")
	return nil
}
