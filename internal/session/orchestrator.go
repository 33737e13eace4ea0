// Package session owns the per-call state machine. The orchestrator
// binds the turn engine, availability resolver, and action executor to
// the lifecycle of one telephone call; it owns all retries, escalation,
// and termination. Sessions live in an explicit registry keyed by call
// identifier, created on the first webhook and archived on termination.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mvail/frontdesk/internal/alert"
	"github.com/mvail/frontdesk/internal/availability"
	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/executor"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/nlu"
	"github.com/mvail/frontdesk/internal/patients"
	"github.com/mvail/frontdesk/internal/store"
	"github.com/mvail/frontdesk/internal/turn"
)

// managed pairs a session with its turn lock. The lock enforces strict
// turn ordering: no turn begins before the previous turn's side effects
// are committed or abandoned.
type managed struct {
	mu sync.Mutex
	s  *domain.CallSession
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Classifier   nlu.Classifier
	Resolver     *availability.Resolver
	Executor     *executor.Executor
	Patients     *patients.Service
	Appointments *store.AppointmentStore
	Archive      *store.SessionArchive
	Knowledge    *knowledge.Base
	Notifier     alert.Notifier
	Events       EventSink

	Dialog  config.DialogConfig
	Retry   config.RetryConfig
	Session config.SessionConfig
	Log     *logging.Logger
}

// Orchestrator drives every active call session.
type Orchestrator struct {
	classifier nlu.Classifier
	resolver   *availability.Resolver
	exec       *executor.Executor
	patients   *patients.Service
	appts      *store.AppointmentStore
	archive    *store.SessionArchive
	kb         *knowledge.Base
	engine     *turn.Engine
	notifier   alert.Notifier
	sink       EventSink
	log        *logging.Logger

	retry       config.RetryConfig
	idleTimeout time.Duration
	collabLimit time.Duration

	mu       sync.Mutex
	sessions map[string]*managed

	now func() time.Time
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	sink := d.Events
	if sink == nil {
		sink = noopSink{}
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = alert.Noop{}
	}
	return &Orchestrator{
		classifier:  d.Classifier,
		resolver:    d.Resolver,
		exec:        d.Executor,
		patients:    d.Patients,
		appts:       d.Appointments,
		archive:     d.Archive,
		kb:          d.Knowledge,
		engine:      turn.New(d.Knowledge, d.Dialog),
		notifier:    notifier,
		sink:        sink,
		log:         d.Log.Sub("session"),
		retry:       d.Retry,
		idleTimeout: time.Duration(d.Session.IdleMinutes) * time.Minute,
		collabLimit: time.Duration(d.Retry.CollaboratorTimeoutSeconds) * time.Second,
		sessions:    make(map[string]*managed),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// StartCall creates a session for an inbound call and returns the
// greeting. Starting an already-known call re-greets without resetting
// its state.
func (o *Orchestrator) StartCall(ctx context.Context, callID, callerNumber string) (string, error) {
	o.mu.Lock()
	if _, exists := o.sessions[callID]; exists {
		o.mu.Unlock()
		return o.engine.Greeting(), nil
	}
	s := &domain.CallSession{
		ID:             callID,
		CallerNumber:   callerNumber,
		State:          domain.StateGreeting,
		CreatedAt:      o.now(),
		LastActivityAt: o.now(),
	}
	s.Slots.CallerIdentity = "unknown"
	o.sessions[callID] = &managed{s: s}
	o.mu.Unlock()

	o.log.WithCall(callID).Info().Str("caller", callerNumber).Msg("call started")
	greeting := o.engine.Greeting()
	o.publish(s, greeting)
	return greeting, nil
}

// HandleUtterance processes one caller utterance and returns the next
// agent utterance. Turns within a session are strictly sequential. The
// caller always receives a coherent response; collaborator faults are
// translated into retries, re-prompts, or an escalation utterance,
// never surfaced raw.
func (o *Orchestrator) HandleUtterance(ctx context.Context, callID, text string) (reply string, err error) {
	m := o.get(callID)
	if m == nil {
		return "", fmt.Errorf("%w: unknown call %s", domain.ErrSessionTerminated, callID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.s
	log := o.log.WithCall(s.ID)

	if s.State == domain.StateTerminated {
		return "", domain.ErrSessionTerminated
	}
	if s.State == domain.StateEscalated {
		return "Please hold while I connect you to our staff.", nil
	}

	// Any uncaught fault must still produce a spoken fallback; the call
	// is escalated, never dropped.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("unrecoverable session fault")
			o.escalate(ctx, s, fmt.Errorf("unrecoverable session fault: %v", r), true)
			reply = "I'm sorry, something went wrong on our side. Let me connect you to our staff."
			err = nil
			o.publish(s, reply)
		}
	}()

	s.TurnCount++
	s.LastActivityAt = o.now()

	result := o.classify(ctx, s, text)
	in := o.gather(ctx, s, result)

	out := o.engine.NextTurn(s, in)
	reply = o.apply(ctx, s, out, in)

	log.Debug().
		Str("state", string(s.State)).
		Str("intent", string(s.Slots.Intent)).
		Int("turn", s.TurnCount).
		Msg("turn handled")
	o.publish(s, reply)

	if s.State == domain.StateTerminated {
		o.finish(s)
	}
	return reply, nil
}

// EndCall handles a hangup. An in-flight turn, including a commit, is
// allowed to finish; its result is simply no longer spoken.
func (o *Orchestrator) EndCall(ctx context.Context, callID string) error {
	m := o.get(callID)
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.s.State != domain.StateTerminated {
		m.s.State = domain.StateTerminated
		o.log.WithCall(callID).Info().Msg("call hung up")
		o.publish(m.s, "")
	}
	o.finish(m.s)
	return nil
}

// Sweep terminates sessions idle past the configured timeout.
func (o *Orchestrator) Sweep(now time.Time) {
	if o.idleTimeout <= 0 {
		return
	}
	for _, m := range o.snapshot() {
		m.mu.Lock()
		if m.s.State != domain.StateTerminated && now.Sub(m.s.LastActivityAt) > o.idleTimeout {
			o.log.WithCall(m.s.ID).Info().Msg("session idle timeout")
			m.s.State = domain.StateTerminated
			o.publish(m.s, "")
			o.finish(m.s)
		}
		m.mu.Unlock()
	}
}

// RunSweeper runs the idle sweep until the context is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			o.Sweep(t.UTC())
		}
	}
}

// Sessions returns a snapshot of the active sessions.
func (o *Orchestrator) Sessions() []domain.CallSession {
	var out []domain.CallSession
	for _, m := range o.snapshot() {
		m.mu.Lock()
		out = append(out, *m.s)
		m.mu.Unlock()
	}
	return out
}

// classify runs the NLU collaborator under the bounded timeout with one
// retry on transient faults. A classifier that stays down yields an
// unknown result rather than a failed turn.
func (o *Orchestrator) classify(ctx context.Context, s *domain.CallSession, text string) *nlu.Result {
	var result *nlu.Result
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		cctx, cancel := o.collabCtx(ctx)
		result, err = o.classifier.Classify(cctx, text, o.kb.ContextPrompt())
		cancel()
		if err == nil {
			return result
		}
		if !domain.IsTransient(err) {
			break
		}
		o.log.WithCall(s.ID).Warn().Err(err).Msg("nlu transient failure, retrying")
	}
	o.log.WithCall(s.ID).Error().Err(err).Msg("nlu unavailable, treating utterance as unknown")
	return &nlu.Result{Intent: domain.IntentUnknown, Question: text}
}

// gather fetches the collaborator data the engine may need for this
// state: identity candidates while identifying, the appointment roster
// once identified.
func (o *Orchestrator) gather(ctx context.Context, s *domain.CallSession, result *nlu.Result) turn.Input {
	in := turn.Input{Result: result, Now: o.now()}
	log := o.log.WithCall(s.ID)

	if !s.Slots.Has("callerIdentity") {
		cands, err := o.patients.Identify(s.CallerNumber)
		if err != nil {
			log.Error().Err(err).Msg("patient lookup failed")
		}
		in.IdentityCandidates = cands
	}

	patientID := s.Slots.CallerIdentity
	if result.Slots.CallerIdentity != "" {
		patientID = result.Slots.CallerIdentity
	}
	// A single candidate resolves identity within this turn; fetch its
	// appointments so "my appointment" resolves in the same exchange.
	if (patientID == "" || patientID == "unknown") && len(in.IdentityCandidates) == 1 {
		patientID = in.IdentityCandidates[0].ID
	}
	if patientID != "" && patientID != "unknown" {
		appts, err := o.patients.UpcomingAppointments(patientID, o.now())
		if err != nil {
			log.Error().Err(err).Msg("appointment lookup failed")
		}
		in.UpcomingAppointments = appts
	}

	relatedID := s.Slots.RelatedAppointmentID
	if result.Slots.RelatedAppointmentID != "" {
		relatedID = result.Slots.RelatedAppointmentID
	}
	if relatedID != "" {
		appt, err := o.appts.Get(relatedID)
		if err != nil {
			log.Error().Err(err).Msg("related appointment lookup failed")
		}
		in.RelatedAppointment = appt
	}
	return in
}

// apply executes an engine verdict: merges slots, runs the requested
// collaborator calls, and advances the state machine.
func (o *Orchestrator) apply(ctx context.Context, s *domain.CallSession, out turn.Output, in turn.Input) string {
	s.Slots.Merge(out.Updates)
	s.State = out.State

	if out.RegisterName != "" {
		p, err := o.patients.RegisterCaller(s.CallerNumber, out.RegisterName)
		if err != nil {
			o.log.WithCall(s.ID).Error().Err(err).Msg("patient registration failed")
		} else {
			s.Slots.CallerIdentity = p.ID
		}
	}

	if out.BumpUnknown {
		s.UnknownTurns++
	} else {
		s.UnknownTurns = 0
	}
	if out.BumpDisambig {
		s.DisambigAttempts++
	}
	if out.ClearPending {
		s.PendingAction = nil
	}
	if out.ClearWindow {
		s.Slots.PreferredWindow = nil
	}
	if out.DropFirstCandidate && len(s.CandidateSlots) > 0 {
		s.CandidateSlots = s.CandidateSlots[1:]
	}

	if out.Escalate != nil {
		o.escalate(ctx, s, out.Escalate, false)
		return out.Utterance
	}

	if out.Action != nil {
		action := *out.Action
		s.ActionSeq++
		action.IdempotencyKey = domain.SessionActionKey(s.ID, s.ActionSeq)
		s.PendingAction = &action
		s.State = domain.StateAwaitingConfirmation
	}

	if out.Availability != nil {
		return o.resolveAndPropose(ctx, s, out.Availability)
	}
	if out.Commit {
		return o.commitPending(ctx, s)
	}
	return out.Utterance
}

// resolveAndPropose queries the resolver under the bounded retry
// policy and turns the candidates into a proposal. Resolver failure
// after retry escalates; an empty result is a conversational re-prompt.
func (o *Orchestrator) resolveAndPropose(ctx context.Context, s *domain.CallSession, q *turn.AvailabilityQuery) string {
	s.State = domain.StateResolvingAvailability

	var candidates []domain.TimeWindow
	var err error
	attempts := o.retry.Availability + 1
	for i := 0; i < attempts; i++ {
		cctx, cancel := o.collabCtx(ctx)
		candidates, err = o.resolver.FindSlots(cctx, q.Doctor, q.Window)
		cancel()
		if err == nil {
			break
		}
		o.log.WithCall(s.ID).Warn().Err(err).Int("attempt", i+1).Msg("availability resolution failed")
	}
	if err != nil {
		o.escalate(ctx, s, err, false)
		return "I'm sorry, I can't reach our calendar right now. Let me connect you to our staff."
	}

	s.CandidateSlots = candidates
	out := o.engine.Propose(s, turn.Input{Now: o.now()}, q.Doctor, candidates)
	return o.apply(ctx, s, out, turn.Input{Now: o.now()})
}

// commitPending applies the confirmed action through the executor,
// synchronously with respect to the call: the caller gets no further
// prompt until the commit resolves or definitively fails. Transient
// faults get one bounded retry under the same idempotency key.
func (o *Orchestrator) commitPending(ctx context.Context, s *domain.CallSession) string {
	action := s.PendingAction
	if action == nil {
		s.State = domain.StateCollecting
		return "How can I help you today?"
	}
	s.State = domain.StateCommitting

	var err error
	attempts := o.retry.Commit + 1
	for i := 0; i < attempts; i++ {
		cctx, cancel := o.collabCtx(ctx)
		_, err = o.exec.Commit(cctx, *action)
		cancel()
		if err == nil || !domain.IsTransient(err) {
			break
		}
		o.log.WithCall(s.ID).Warn().Err(err).Int("attempt", i+1).Msg("commit failed")
	}

	s.State = domain.StateResponding
	out := o.engine.RenderOutcome(action.Kind, err)
	return o.apply(ctx, s, out, turn.Input{Now: o.now()})
}

// escalate moves the session to Escalated. Only orphaned reschedules
// and unrecoverable faults go to the operations channel; everything
// else stays within the call.
func (o *Orchestrator) escalate(ctx context.Context, s *domain.CallSession, reason error, fault bool) {
	s.State = domain.StateEscalated
	s.PendingAction = nil
	o.log.WithCall(s.ID).Error().Err(reason).Msg("session escalated")

	var orphaned *domain.OrphanedError
	if errors.As(reason, &orphaned) {
		o.notifier.Notify(ctx, "orphaned reschedule",
			fmt.Sprintf("call %s: appointment %s cancelled, replacement failed: %v",
				s.ID, orphaned.CancelledAppointmentID, orphaned.Err))
	} else if fault {
		o.notifier.Notify(ctx, "session fault",
			fmt.Sprintf("call %s: %v", s.ID, reason))
	}
}

// finish archives a terminated session and drops it from the registry.
func (o *Orchestrator) finish(s *domain.CallSession) {
	if o.archive != nil {
		if err := o.archive.Archive(s); err != nil {
			o.log.WithCall(s.ID).Error().Err(err).Msg("session archive failed")
		}
	}
	o.mu.Lock()
	delete(o.sessions, s.ID)
	o.mu.Unlock()
	o.log.WithCall(s.ID).Info().Int("turns", s.TurnCount).Msg("session archived")
}

func (o *Orchestrator) get(callID string) *managed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[callID]
}

func (o *Orchestrator) snapshot() []*managed {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*managed, 0, len(o.sessions))
	for _, m := range o.sessions {
		out = append(out, m)
	}
	return out
}

func (o *Orchestrator) collabCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.collabLimit > 0 {
		return context.WithTimeout(ctx, o.collabLimit)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) publish(s *domain.CallSession, utterance string) {
	o.sink.Publish(Event{
		SessionID:    s.ID,
		CallerNumber: s.CallerNumber,
		State:        s.State,
		Utterance:    utterance,
		At:           o.now(),
	})
}
