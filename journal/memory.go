package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/eclipse-ditto/ditto-sub022/connection"
)

// Memory is an in-memory Journal for tests and single-process setups.
type Memory struct {
	mu        sync.RWMutex
	events    map[string][]connection.Event
	snapshots map[string]connection.State
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string][]connection.Event),
		snapshots: make(map[string]connection.State),
	}
}

// Append implements Journal.
func (m *Memory) Append(_ context.Context, connectionID string, event connection.Event) (connection.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event.Seq = m.lastSeqLocked(connectionID) + 1
	m.events[connectionID] = append(m.events[connectionID], event)
	return event, nil
}

func (m *Memory) lastSeqLocked(connectionID string) uint64 {
	if events := m.events[connectionID]; len(events) > 0 {
		return events[len(events)-1].Seq
	}
	if snapshot, ok := m.snapshots[connectionID]; ok {
		return snapshot.Seq
	}
	return 0
}

// Replay implements Journal.
func (m *Memory) Replay(_ context.Context, connectionID string, fromSeq uint64) ([]connection.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []connection.Event
	for _, event := range m.events[connectionID] {
		if event.Seq > fromSeq {
			out = append(out, event)
		}
	}
	return out, nil
}

// SaveSnapshot implements Journal.
func (m *Memory) SaveSnapshot(_ context.Context, connectionID string, state connection.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[connectionID] = state
	return nil
}

// LoadLatestSnapshot implements Journal.
func (m *Memory) LoadLatestSnapshot(_ context.Context, connectionID string) (connection.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.snapshots[connectionID]
	return state, ok, nil
}

// ConnectionIDs implements Journal.
func (m *Memory) ConnectionIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range m.events {
		seen[id] = struct{}{}
	}
	for id := range m.snapshots {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Cleanup implements Journal: drops events covered by the latest snapshot.
func (m *Memory) Cleanup(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.snapshots[connectionID]
	if !ok {
		return nil
	}

	kept := m.events[connectionID][:0]
	for _, event := range m.events[connectionID] {
		if event.Seq > snapshot.Seq {
			kept = append(kept, event)
		}
	}
	m.events[connectionID] = kept
	return nil
}

// EventCount returns the number of retained events for a connection.
// Test helper.
func (m *Memory) EventCount(connectionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events[connectionID])
}
