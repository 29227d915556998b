package pubsub

import (
	"context"
	"sync"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Memory is an in-process registry for tests and single-node setups.
type Memory struct {
	mu       sync.Mutex
	handlers map[string]map[string]Handler
}

// NewMemory creates an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{handlers: map[string]map[string]Handler{}}
}

// Subscribe registers the subscriber for the given topic kinds.
func (m *Memory) Subscribe(subscriberID string, kinds []connection.TopicKind, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := map[string]Handler{}
	for _, kind := range kinds {
		if subject := SubjectFor(kind); subject != "" {
			wanted[subject] = handler
		}
	}
	m.handlers[subscriberID] = wanted
	return nil
}

// RemoveSubscriber drops the subscriber.
func (m *Memory) RemoveSubscriber(subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, subscriberID)
	return nil
}

// Subjects returns the subjects a subscriber currently listens on. Test
// helper.
func (m *Memory) Subjects(subscriberID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for subject := range m.handlers[subscriberID] {
		out = append(out, subject)
	}
	return out
}

// Publish delivers a signal synchronously to every matching subscriber.
func (m *Memory) Publish(ctx context.Context, s signal.Signal) error {
	subject := subjectForSignal(s)
	if subject == "" {
		return nil
	}

	m.mu.Lock()
	var targets []Handler
	for _, subjects := range m.handlers {
		if handler, ok := subjects[subject]; ok {
			targets = append(targets, handler)
		}
	}
	m.mu.Unlock()

	for _, handler := range targets {
		handler(ctx, s)
	}
	return nil
}
