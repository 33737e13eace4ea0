// Package nlu turns raw caller utterances into intents and slot values.
// Classification is the only place free text is interpreted; everything
// downstream works on the structured Result.
package nlu

import (
	"context"

	"github.com/mvail/frontdesk/internal/domain"
)

// Affirmation is a yes/no reading of an utterance, used while a
// proposed action awaits confirmation.
type Affirmation string

const (
	AffirmNone Affirmation = ""
	AffirmYes  Affirmation = "yes"
	AffirmNo   Affirmation = "no"
)

// Result is the structured interpretation of one utterance.
type Result struct {
	Intent domain.Intent

	// Slots carries any values extracted from this utterance. Unset
	// fields mean "not mentioned", not "cleared".
	Slots domain.SlotUpdates

	// PatientName is the caller's stated name, used to disambiguate
	// when several patients share the caller number.
	PatientName string

	// Affirmation is set when the utterance answers a yes/no question.
	Affirmation Affirmation

	// Goodbye is set when the caller indicates the conversation is over.
	Goodbye bool

	// Question preserves the raw utterance for faq answering.
	Question string
}

// Classifier interprets a single utterance. The context string carries
// clinic knowledge (doctor roster, services) so the model can ground
// names; it never contains prior patient data.
type Classifier interface {
	Classify(ctx context.Context, utterance, promptContext string) (*Result, error)
	Name() string
}
