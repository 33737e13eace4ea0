package nlu

import (
	"context"
	"sync"

	"github.com/mvail/frontdesk/internal/domain"
)

// Mock is a scripted classifier for tests and offline development.
// Results are consumed in order; when the script runs out, every
// utterance classifies as unknown.
type Mock struct {
	mu      sync.Mutex
	script  []*Result
	Err     error
	Classed []string
}

// NewMock creates an empty mock classifier.
func NewMock() *Mock {
	return &Mock{}
}

// Enqueue appends results to the script.
func (m *Mock) Enqueue(results ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// Name returns the provider name.
func (m *Mock) Name() string {
	return "mock"
}

// Classify pops the next scripted result.
func (m *Mock) Classify(ctx context.Context, utterance, promptContext string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Classed = append(m.Classed, utterance)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.script) == 0 {
		return &Result{Intent: domain.IntentUnknown, Question: utterance}, nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	if next.Question == "" {
		next.Question = utterance
	}
	return next, nil
}
