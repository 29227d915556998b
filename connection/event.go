package connection

import (
	"fmt"
	"time"
)

// EventType enumerates the persisted connectivity events.
type EventType string

// Persisted event types.
const (
	EventCreated  EventType = "connectionCreated"
	EventModified EventType = "connectionModified"
	EventOpened   EventType = "connectionOpened"
	EventClosed   EventType = "connectionClosed"
	EventDeleted  EventType = "connectionDeleted"
)

// Event is one append-only fact about a connection. Created and Modified
// carry the full connection snapshot; Opened, Closed and Deleted are deltas.
// Sequence numbers are assigned by the journal on append and are strictly
// monotonic per connection.
type Event struct {
	Type       EventType   `json:"type"`
	Seq        uint64      `json:"seq"`
	Connection *Connection `json:"connection,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// State is the replayable state of one connection: the latest configuration
// snapshot, its lifecycle, and the sequence number of the last applied event.
type State struct {
	Connection Connection
	Lifecycle  Lifecycle
	Seq        uint64
}

// Exists reports whether any event has been applied.
func (s State) Exists() bool {
	return s.Seq > 0
}

// IsDeleted reports whether the terminal state is a tombstone.
func (s State) IsDeleted() bool {
	return s.Lifecycle == LifecycleDeleted
}

// Apply folds one event into the state. Events must be applied in sequence
// order; replaying the full log reconstructs state deterministically.
func (s *State) Apply(e Event) error {
	if e.Seq != 0 && e.Seq <= s.Seq {
		return fmt.Errorf("event seq %d is not after state seq %d", e.Seq, s.Seq)
	}

	switch e.Type {
	case EventCreated, EventModified:
		if e.Connection == nil {
			return fmt.Errorf("%s event without connection snapshot", e.Type)
		}
		conn := e.Connection.Clone()
		conn.Lifecycle = LifecycleActive
		s.Connection = conn
		s.Lifecycle = LifecycleActive
	case EventOpened:
		s.Connection.Status = StatusOpen
	case EventClosed:
		s.Connection.Status = StatusClosed
	case EventDeleted:
		// Tombstone: the snapshot is kept with lifecycle overwritten so the
		// last configuration stays readable until reaped.
		s.Connection.Lifecycle = LifecycleDeleted
		s.Lifecycle = LifecycleDeleted
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}

	s.Seq = e.Seq
	return nil
}

// Replay folds events onto a starting state, returning the resulting state.
func Replay(start State, events []Event) (State, error) {
	state := start
	for _, e := range events {
		if err := state.Apply(e); err != nil {
			return State{}, err
		}
	}
	return state, nil
}
