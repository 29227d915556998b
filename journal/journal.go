// Package journal provides the persistence contract for connection state: an
// append-only event log per connection plus point-in-time snapshots with
// replay. The supervisor is the sole writer for a connection id; the journal
// relies on that for sequence number assignment.
package journal

import (
	"context"

	"github.com/eclipse-ditto/ditto-sub022/connection"
)

// PersistenceIDPrefix prefixes every persistence id.
const PersistenceIDPrefix = "connection"

// PersistenceID returns the persistence id for a connection:
// "connection:<connectionId>".
func PersistenceID(connectionID string) string {
	return PersistenceIDPrefix + ":" + connectionID
}

// Journal is the append-only, crash-recoverable store for connectivity
// events. Events for one connection are persisted and replayed strictly in
// append order.
type Journal interface {
	// Append persists the event, assigning the next sequence number for the
	// connection, and returns the stored event.
	Append(ctx context.Context, connectionID string, event connection.Event) (connection.Event, error)

	// Replay returns all persisted events for the connection with sequence
	// numbers above fromSeq, in append order.
	Replay(ctx context.Context, connectionID string, fromSeq uint64) ([]connection.Event, error)

	// SaveSnapshot stores a point-in-time state snapshot.
	SaveSnapshot(ctx context.Context, connectionID string, state connection.State) error

	// LoadLatestSnapshot returns the most recent snapshot, if one exists.
	LoadLatestSnapshot(ctx context.Context, connectionID string) (connection.State, bool, error)

	// ConnectionIDs lists all connection ids with persisted state.
	ConnectionIDs(ctx context.Context) ([]string, error)

	// Cleanup removes events already covered by the latest snapshot. The
	// snapshot must have been saved before calling Cleanup.
	Cleanup(ctx context.Context, connectionID string) error
}

// Recover replays a connection's persisted state: latest snapshot (if any)
// plus all subsequent events.
func Recover(ctx context.Context, j Journal, connectionID string) (connection.State, error) {
	state, found, err := j.LoadLatestSnapshot(ctx, connectionID)
	if err != nil {
		return connection.State{}, err
	}
	if !found {
		state = connection.State{}
	}

	events, err := j.Replay(ctx, connectionID, state.Seq)
	if err != nil {
		return connection.State{}, err
	}
	return connection.Replay(state, events)
}
