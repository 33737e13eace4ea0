// Package messaging delivers outbound reminder messages. Delivery
// confirmation is best effort; the domain tracks sent, not delivered.
package messaging

import (
	"context"
	"sync"
)

// Messenger sends one opaque message to a phone number.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
	Name() string
}

// Mock records messages for tests and offline development.
type Mock struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	To   string
	Body string
}

// NewMock creates an empty recording messenger.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Send(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns the recorded messages.
func (m *Mock) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}
