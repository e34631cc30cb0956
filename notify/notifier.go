package notify

import (
	"context"
	"sync"
)

// Event names double as pub/sub channel names
const (
	EventOpportunity = "arb:opportunity"
	EventExecution   = "arb:execution"
)

// Publisher hands events to whatever pushes them to clients
type Publisher interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// Noop drops every event
type Noop struct{}

// Publish does nothing
func (Noop) Publish(context.Context, string, interface{}) error { return nil }

// Message is one published event
type Message struct {
	Event   string
	Payload interface{}
}

// Memory records events, mostly for tests and the CLI
type Memory struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemory creates an empty recorder
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event
func (m *Memory) Publish(_ context.Context, event string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Event: event, Payload: payload})
	return nil
}

// Messages returns the recorded events, optionally filtered by name
func (m *Memory) Messages(event string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if event == "" || msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}
