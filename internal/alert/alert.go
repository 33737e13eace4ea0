// Package alert delivers operations notifications outside the call.
// Only orphaned reschedules and unrecoverable session faults are
// surfaced here; everything else stays within the conversation.
package alert

import (
	"context"
	"sync"
)

// Notifier delivers one alert to the staff channel. Delivery is best
// effort; a failed alert is logged, never retried into the call flow.
type Notifier interface {
	Notify(ctx context.Context, subject, detail string)
}

// Noop discards alerts; used when no alert channel is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, subject, detail string) {}

// Memory records alerts for tests.
type Memory struct {
	mu     sync.Mutex
	alerts []string
}

// NewMemory creates an empty recording notifier.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Notify(ctx context.Context, subject, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, subject+": "+detail)
}

// Alerts returns the recorded alerts.
func (m *Memory) Alerts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.alerts))
	copy(out, m.alerts)
	return out
}
