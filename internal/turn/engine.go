// Package turn decides what the agent says and proposes next. The
// engine is pure: given the same session snapshot and input it always
// produces the same output, so dialogue policy is testable without any
// collaborator. All I/O belongs to the orchestrator.
package turn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/nlu"
)

// ErrIntentNotUnderstood signals too many turns without a usable
// intent; the orchestrator escalates.
var ErrIntentNotUnderstood = errors.New("caller intent not understood")

// Input carries the classified utterance plus whatever collaborator
// data the orchestrator fetched for the current state.
type Input struct {
	Result *nlu.Result

	// IdentityCandidates are active patients on the caller number,
	// consulted while identifying.
	IdentityCandidates []domain.Patient

	// UpcomingAppointments are the identified patient's scheduled
	// future appointments, used to resolve "my appointment".
	UpcomingAppointments []domain.Appointment

	// RelatedAppointment is the record behind the filled
	// relatedAppointmentId slot, when the orchestrator loaded one.
	RelatedAppointment *domain.Appointment

	// Now anchors default windows; injected for determinism.
	Now time.Time
}

// AvailabilityQuery asks the orchestrator to run the resolver.
type AvailabilityQuery struct {
	Doctor *knowledge.Doctor
	Window domain.TimeWindow
}

// Output is the engine's verdict for one turn. The orchestrator applies
// the updates and side effects; the engine only describes them.
type Output struct {
	Utterance string
	Updates   domain.SlotUpdates
	State     domain.SessionState

	// Action is a proposed appointment action awaiting confirmation.
	// The idempotency key is assigned by the orchestrator.
	Action *domain.AppointmentAction

	// Availability is set when the conversation needs fresh candidates.
	Availability *AvailabilityQuery

	// Commit confirms the session's pending action.
	Commit bool

	// RegisterName asks for a new patient record under this name.
	RegisterName string

	EndCall      bool
	Escalate     error
	ClearPending bool
	ClearWindow  bool

	// DropFirstCandidate pops the rejected slot proposal so the next
	// one can be offered.
	DropFirstCandidate bool

	BumpUnknown  bool
	BumpDisambig bool
}

// Engine holds the dialogue policy configuration.
type Engine struct {
	kb       *knowledge.Base
	required map[string][]string

	maxUnknownTurns     int
	maxDisambigAttempts int
	defaultDuration     time.Duration
}

// New creates a turn engine from dialog configuration.
func New(kb *knowledge.Base, dialog config.DialogConfig) *Engine {
	required := dialog.RequiredSlots
	if len(required) == 0 {
		required = config.DefaultRequiredSlots()
	}
	return &Engine{
		kb:                  kb,
		required:            required,
		maxUnknownTurns:     dialog.MaxUnknownTurns,
		maxDisambigAttempts: dialog.MaxDisambigAttempts,
		defaultDuration:     time.Duration(dialog.DefaultDurationMinutes) * time.Minute,
	}
}

// Greeting renders the call-opening utterance.
func (e *Engine) Greeting() string {
	name := e.kb.Info().ClinicName
	if name == "" {
		name = "the clinic"
	}
	return fmt.Sprintf("Thank you for calling %s. How can I help you today?", name)
}

// NextTurn consumes one classified utterance against a session
// snapshot. It never mutates the session.
func (e *Engine) NextTurn(sess *domain.CallSession, in Input) Output {
	out := Output{State: sess.State, Updates: in.Result.Slots}

	if in.Result.Goodbye {
		out.Utterance = "Thank you for calling. Goodbye!"
		out.State = domain.StateTerminated
		out.EndCall = true
		out.ClearPending = true
		return out
	}

	eff := sess.Slots
	eff.Merge(in.Result.Slots)

	switch sess.State {
	case domain.StateGreeting, domain.StateIdentifying:
		e.identify(sess, &eff, in, &out)
	case domain.StateCollecting, domain.StateResponding:
		e.collect(sess, &eff, in, &out)
	case domain.StateAwaitingConfirmation:
		e.confirm(sess, &eff, in, &out)
	default:
		out.Utterance = "One moment please."
	}
	return out
}

// identify resolves callerIdentity from the caller number plus stated
// name. Several patients on one number get a disambiguating question,
// bounded by the configured attempt limit.
func (e *Engine) identify(sess *domain.CallSession, eff *domain.Slots, in Input, out *Output) {
	if eff.Has("callerIdentity") {
		out.State = domain.StateCollecting
		e.collect(sess, eff, in, out)
		return
	}

	switch len(in.IdentityCandidates) {
	case 0:
		if in.Result.PatientName != "" {
			out.RegisterName = in.Result.PatientName
			out.State = domain.StateCollecting
			e.collect(sess, eff, in, out)
			if out.Utterance == "" || out.BumpUnknown {
				out.BumpUnknown = false
				out.Utterance = fmt.Sprintf("Welcome, %s. How can I help you today?", in.Result.PatientName)
			}
			return
		}
		out.State = domain.StateIdentifying
		out.Utterance = "I don't have this number on file yet. May I have your full name?"

	case 1:
		out.Updates.CallerIdentity = in.IdentityCandidates[0].ID
		eff.CallerIdentity = in.IdentityCandidates[0].ID
		out.State = domain.StateCollecting
		e.collect(sess, eff, in, out)

	default:
		if in.Result.PatientName != "" {
			if m := matchPatient(in.IdentityCandidates, in.Result.PatientName); m != nil {
				out.Updates.CallerIdentity = m.ID
				eff.CallerIdentity = m.ID
				out.State = domain.StateCollecting
				e.collect(sess, eff, in, out)
				return
			}
		}
		if sess.DisambigAttempts >= e.maxDisambigAttempts {
			out.Escalate = domain.ErrAmbiguousIdentity
			out.State = domain.StateEscalated
			out.Utterance = "I'm having trouble confirming who's calling. Let me connect you to our staff."
			return
		}
		out.BumpDisambig = true
		out.State = domain.StateIdentifying
		out.Utterance = fmt.Sprintf("This number is registered to %s. Who am I speaking with?",
			listNames(in.IdentityCandidates))
	}
}

// collect accumulates slots until the intent's required set is filled,
// then hands the conversation to availability or confirmation.
func (e *Engine) collect(sess *domain.CallSession, eff *domain.Slots, in Input, out *Output) {
	out.State = domain.StateCollecting

	if in.Result.Intent == domain.IntentFAQ || eff.Intent == domain.IntentFAQ {
		answer := e.kb.AnswerFAQ(in.Result.Question)
		if answer == "" {
			answer = "I'm not sure about that, but our staff can help when you visit."
		}
		out.Utterance = answer + " Is there anything else I can do for you?"
		return
	}

	if !eff.Has("intent") {
		e.unknownTurn(sess, in, out)
		return
	}

	missing := e.missingSlots(eff)
	if contains(missing, "relatedAppointmentId") {
		if done := e.resolveRelated(eff, in, out); done {
			return
		}
		missing = e.missingSlots(eff)
	}

	if eff.Has("doctor") && e.resolveDoctor(eff.PreferredDoctor) == nil {
		out.Utterance = fmt.Sprintf("I couldn't find that doctor. Our doctors are %s. Who would you like to see?",
			e.roster())
		return
	}

	if len(missing) > 0 {
		out.Utterance = e.promptFor(missing[0])
		return
	}

	e.advance(eff, in, out)
}

// advance fires once the required slots are complete.
func (e *Engine) advance(eff *domain.Slots, in Input, out *Output) {
	switch eff.Intent {
	case domain.IntentBook:
		if !eff.Has("window") {
			out.Utterance = e.promptFor("window")
			return
		}
		doc := e.resolveDoctor(eff.PreferredDoctor)
		if doc == nil {
			out.Utterance = e.promptFor("doctor")
			return
		}
		out.State = domain.StateResolvingAvailability
		out.Availability = &AvailabilityQuery{Doctor: doc, Window: *eff.PreferredWindow}

	case domain.IntentReschedule:
		if !eff.Has("window") {
			out.Utterance = e.promptFor("window")
			return
		}
		doc := e.doctorForRelated(eff, in)
		if doc == nil {
			out.Utterance = "I couldn't find that appointment. Could you tell me which appointment you mean?"
			return
		}
		out.State = domain.StateResolvingAvailability
		out.Availability = &AvailabilityQuery{Doctor: doc, Window: *eff.PreferredWindow}

	case domain.IntentCancel:
		out.State = domain.StateAwaitingConfirmation
		out.Action = &domain.AppointmentAction{
			Kind:                 domain.ActionCancel,
			PatientID:            eff.CallerIdentity,
			RelatedAppointmentID: eff.RelatedAppointmentID,
		}
		out.Utterance = e.describeCancel(relatedRecord(eff, in))

	case domain.IntentFollowup:
		doc := e.doctorForRelated(eff, in)
		if doc == nil {
			out.Utterance = "I couldn't find the earlier appointment. Could you tell me which visit this follows up on?"
			return
		}
		window := e.followupWindow(eff, in)
		out.State = domain.StateResolvingAvailability
		out.Availability = &AvailabilityQuery{Doctor: doc, Window: window}
	}
}

// unknownTurn bounds the number of turns the conversation may spend
// without a usable intent before falling back to faq or escalating.
func (e *Engine) unknownTurn(sess *domain.CallSession, in Input, out *Output) {
	if !in.Result.Slots.IsEmpty() || in.Result.PatientName != "" {
		out.Utterance = "Got it. Would you like to book, reschedule, or cancel an appointment?"
		return
	}

	if sess.UnknownTurns >= e.maxUnknownTurns {
		if answer := e.kb.AnswerFAQ(in.Result.Question); answer != "" {
			out.Utterance = answer + " Is there anything else I can do for you?"
			return
		}
		out.Escalate = ErrIntentNotUnderstood
		out.State = domain.StateEscalated
		out.Utterance = "I'm sorry, I'm having trouble understanding. Let me connect you to our staff."
		return
	}
	out.BumpUnknown = true
	out.Utterance = "I'm sorry, I didn't catch that. You can book, reschedule, or cancel an appointment, or ask about the clinic."
}

// resolveRelated fills relatedAppointmentId from the patient's
// upcoming appointments. Reports true when the turn ends here.
func (e *Engine) resolveRelated(eff *domain.Slots, in Input, out *Output) bool {
	switch len(in.UpcomingAppointments) {
	case 0:
		out.Utterance = "I don't see any upcoming appointments for you. Would you like to book one?"
		return true
	case 1:
		id := in.UpcomingAppointments[0].ID
		out.Updates.RelatedAppointmentID = id
		eff.RelatedAppointmentID = id
		return false
	default:
		out.Utterance = fmt.Sprintf("You have %d upcoming appointments: %s. Which one do you mean?",
			len(in.UpcomingAppointments), listAppointments(in.UpcomingAppointments, e.kb))
		return true
	}
}

// confirm handles the explicit affirm-or-decline exchange on a pending
// proposal. A new time preference counts as a decline plus refinement.
func (e *Engine) confirm(sess *domain.CallSession, eff *domain.Slots, in Input, out *Output) {
	if sess.PendingAction == nil {
		out.State = domain.StateCollecting
		out.Utterance = "How can I help you today?"
		return
	}

	switch {
	case in.Result.Affirmation == nlu.AffirmYes:
		out.Commit = true
		out.State = domain.StateCommitting

	case in.Result.Slots.PreferredWindow != nil:
		out.ClearPending = true
		doc := e.kb.DoctorByID(sess.PendingAction.TargetDoctor)
		if doc == nil {
			out.State = domain.StateCollecting
			out.Utterance = e.promptFor("doctor")
			return
		}
		out.State = domain.StateResolvingAvailability
		out.Availability = &AvailabilityQuery{Doctor: doc, Window: *in.Result.Slots.PreferredWindow}

	case in.Result.Affirmation == nlu.AffirmNo:
		out.ClearPending = true
		if len(sess.CandidateSlots) > 1 {
			next := sess.CandidateSlots[1]
			action := *sess.PendingAction
			action.Window = next
			action.IdempotencyKey = ""
			out.Action = &action
			out.DropFirstCandidate = true
			out.State = domain.StateAwaitingConfirmation
			out.Utterance = fmt.Sprintf("How about %s instead? Shall I book that?", speakWindow(next))
			return
		}
		out.State = domain.StateCollecting
		out.ClearWindow = true
		out.Utterance = "No problem. What day and time would work better for you?"

	default:
		out.State = domain.StateAwaitingConfirmation
		out.Utterance = "Sorry, I need a yes or no. " + e.describePending(sess.PendingAction)
	}
}

// Propose turns fresh availability candidates into a concrete proposal.
// An empty candidate list re-prompts for a different window; it is not
// a failure.
func (e *Engine) Propose(sess *domain.CallSession, in Input, doc *knowledge.Doctor, candidates []domain.TimeWindow) Output {
	out := Output{State: domain.StateCollecting}

	if len(candidates) == 0 {
		out.ClearWindow = true
		out.Utterance = fmt.Sprintf("I'm sorry, %s has nothing free in that window. Is there another day or time that works?",
			doc.Name)
		return out
	}

	eff := sess.Slots
	kind := domain.ActionBook
	if eff.Intent == domain.IntentReschedule {
		kind = domain.ActionReschedule
	}

	out.Action = &domain.AppointmentAction{
		Kind:                 kind,
		PatientID:            eff.CallerIdentity,
		TargetDoctor:         doc.ID,
		Window:               candidates[0],
		RelatedAppointmentID: eff.RelatedAppointmentID,
		Reason:               eff.Reason,
	}
	out.State = domain.StateAwaitingConfirmation

	alternatives := ""
	if len(candidates) > 1 {
		alternatives = fmt.Sprintf(" I have %d other options if that doesn't suit.", len(candidates)-1)
	}
	verb := "book"
	if kind == domain.ActionReschedule {
		verb = "move your appointment to"
	}
	out.Utterance = fmt.Sprintf("I can offer %s with %s. Shall I %s that?%s",
		speakWindow(candidates[0]), doc.Name, verb, alternatives)
	return out
}

// RenderOutcome translates a commit result into the caller-facing
// utterance and next state. Failures never surface raw.
func (e *Engine) RenderOutcome(kind domain.ActionKind, err error) Output {
	out := Output{State: domain.StateCollecting, ClearPending: true}

	if err == nil {
		switch kind {
		case domain.ActionBook:
			out.Utterance = "You're all booked. You'll receive a reminder before your visit. Anything else I can do for you?"
		case domain.ActionReschedule:
			out.Utterance = "Your appointment has been moved. You'll receive a reminder before the new time. Anything else?"
		case domain.ActionCancel:
			out.Utterance = "Your appointment is cancelled. Anything else I can do for you?"
		case domain.ActionConfirm:
			out.Utterance = "Thank you, your appointment is confirmed. Anything else?"
		}
		return out
	}

	var orphaned *domain.OrphanedError
	switch {
	case errors.As(err, &orphaned):
		// An orphaned reschedule wraps the underlying failure; it must
		// escalate even when that failure was a slot conflict.
		out.State = domain.StateEscalated
		out.Escalate = err
		out.Utterance = "I'm sorry, I ran into a problem moving your appointment. Let me connect you to our staff."
	case errors.Is(err, domain.ErrSlotConflict):
		out.ClearWindow = true
		out.Utterance = "I'm sorry, that time was just taken. Let me check again: is there another day or time that works?"
	case errors.Is(err, domain.ErrAppointmentNotFound):
		out.Utterance = "I couldn't find that appointment anymore. Is there anything else I can help with?"
	default:
		out.State = domain.StateEscalated
		out.Escalate = err
		out.Utterance = "I'm sorry, something went wrong on our side. Let me connect you to our staff."
	}
	return out
}

// missingSlots returns the intent's unfilled required slots, in the
// configured order.
func (e *Engine) missingSlots(eff *domain.Slots) []string {
	var missing []string
	for _, name := range e.required[string(eff.Intent)] {
		if !eff.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func (e *Engine) promptFor(slot string) string {
	switch slot {
	case "doctor":
		return fmt.Sprintf("Which doctor would you like to see? Our doctors are %s.", e.roster())
	case "window":
		return "What day and time work best for you?"
	case "reason":
		return "What is the reason for your visit?"
	case "relation":
		return "Who is the appointment for?"
	case "relatedAppointmentId":
		return "Which appointment do you mean?"
	}
	return "Could you tell me a bit more?"
}

func (e *Engine) resolveDoctor(ref string) *knowledge.Doctor {
	if d := e.kb.DoctorByID(ref); d != nil {
		return d
	}
	return e.kb.DoctorByName(ref)
}

// doctorForRelated picks the doctor for reschedule/followup, preferring
// an explicitly stated doctor over the original appointment's.
func (e *Engine) doctorForRelated(eff *domain.Slots, in Input) *knowledge.Doctor {
	if eff.Has("doctor") {
		if d := e.resolveDoctor(eff.PreferredDoctor); d != nil {
			return d
		}
	}
	if appt := relatedRecord(eff, in); appt != nil {
		return e.kb.DoctorByID(appt.DoctorID)
	}
	return nil
}

// relatedRecord finds the appointment behind the relatedAppointmentId
// slot, from the loaded record or the upcoming list.
func relatedRecord(eff *domain.Slots, in Input) *domain.Appointment {
	if in.RelatedAppointment != nil && in.RelatedAppointment.ID == eff.RelatedAppointmentID {
		return in.RelatedAppointment
	}
	for i := range in.UpcomingAppointments {
		if in.UpcomingAppointments[i].ID == eff.RelatedAppointmentID {
			return &in.UpcomingAppointments[i]
		}
	}
	return nil
}

// followupWindow defaults to the week after tomorrow's start when the
// caller gave no preference.
func (e *Engine) followupWindow(eff *domain.Slots, in Input) domain.TimeWindow {
	if eff.Has("window") {
		return *eff.PreferredWindow
	}
	start := in.Now.Add(24 * time.Hour)
	return domain.TimeWindow{Start: start, End: start.Add(7 * 24 * time.Hour)}
}

func (e *Engine) describeCancel(appt *domain.Appointment) string {
	if appt == nil {
		return "Shall I cancel that appointment? Please say yes or no."
	}
	doc := e.kb.DoctorByID(appt.DoctorID)
	name := appt.DoctorID
	if doc != nil {
		name = doc.Name
	}
	return fmt.Sprintf("You'd like to cancel your appointment with %s on %s. Shall I go ahead? Please say yes or no.",
		name, speakTime(appt.StartTime))
}

func (e *Engine) describePending(action *domain.AppointmentAction) string {
	switch action.Kind {
	case domain.ActionCancel:
		return "Shall I cancel the appointment?"
	case domain.ActionReschedule:
		return fmt.Sprintf("Shall I move your appointment to %s?", speakWindow(action.Window))
	default:
		return fmt.Sprintf("Shall I book %s?", speakWindow(action.Window))
	}
}

func (e *Engine) roster() string {
	info := e.kb.Info()
	names := make([]string, 0, len(info.Doctors))
	for _, d := range info.Doctors {
		names = append(names, d.Name)
	}
	if len(names) == 0 {
		return "currently unavailable"
	}
	return strings.Join(names, ", ")
}

func matchPatient(candidates []domain.Patient, stated string) *domain.Patient {
	needle := strings.ToLower(strings.TrimSpace(stated))
	if needle == "" {
		return nil
	}
	var match *domain.Patient
	for i := range candidates {
		if strings.Contains(strings.ToLower(candidates[i].FullName), needle) {
			if match != nil {
				return nil
			}
			match = &candidates[i]
		}
	}
	return match
}

func listNames(patients []domain.Patient) string {
	names := make([]string, 0, len(patients))
	for _, p := range patients {
		names = append(names, p.FullName)
	}
	return strings.Join(names, " and ")
}

func listAppointments(appts []domain.Appointment, kb *knowledge.Base) string {
	parts := make([]string, 0, len(appts))
	for _, a := range appts {
		name := a.DoctorID
		if d := kb.DoctorByID(a.DoctorID); d != nil {
			name = d.Name
		}
		parts = append(parts, fmt.Sprintf("%s with %s", speakTime(a.StartTime), name))
	}
	return strings.Join(parts, "; ")
}

func speakWindow(w domain.TimeWindow) string {
	return speakTime(w.Start)
}

func speakTime(t time.Time) string {
	return t.Format("Monday, January 2 at 3:04 PM")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
