package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ditto/ditto-sub022/connection"
)

func TestPersistenceID(t *testing.T) {
	assert.Equal(t, "connection:conn-1", PersistenceID("conn-1"))
}

func testConn(id string) connection.Connection {
	return connection.Connection{
		ID:     id,
		Type:   connection.TypeMQTT3,
		Status: connection.StatusClosed,
		URI:    "tcp://broker.example.com:1883",
	}
}

func TestMemory_AppendAssignsMonotonicSeq(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()
	conn := testConn("conn-1")

	first, err := j.Append(ctx, "conn-1", connection.Event{Type: connection.EventCreated, Connection: &conn})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Seq)

	second, err := j.Append(ctx, "conn-1", connection.Event{Type: connection.EventOpened})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Seq)

	// Sequences are per connection id.
	other, err := j.Append(ctx, "conn-2", connection.Event{Type: connection.EventCreated, Connection: &conn})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other.Seq)
}

func TestMemory_ReplayFromSeq(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()
	conn := testConn("conn-1")

	_, err := j.Append(ctx, "conn-1", connection.Event{Type: connection.EventCreated, Connection: &conn})
	require.NoError(t, err)
	_, err = j.Append(ctx, "conn-1", connection.Event{Type: connection.EventOpened})
	require.NoError(t, err)
	_, err = j.Append(ctx, "conn-1", connection.Event{Type: connection.EventClosed})
	require.NoError(t, err)

	all, err := j.Replay(ctx, "conn-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tail, err := j.Replay(ctx, "conn-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, connection.EventClosed, tail[0].Type)
}

func TestRecover_SnapshotPlusEvents(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()
	conn := testConn("conn-1")

	_, err := j.Append(ctx, "conn-1", connection.Event{Type: connection.EventCreated, Connection: &conn})
	require.NoError(t, err)

	state, err := Recover(ctx, j, "conn-1")
	require.NoError(t, err)
	require.NoError(t, j.SaveSnapshot(ctx, "conn-1", state))
	require.NoError(t, j.Cleanup(ctx, "conn-1"))
	assert.Equal(t, 0, j.EventCount("conn-1"))

	// Events after the snapshot still replay on top of it.
	_, err = j.Append(ctx, "conn-1", connection.Event{Type: connection.EventOpened})
	require.NoError(t, err)

	recovered, err := Recover(ctx, j, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusOpen, recovered.Connection.Status)
	assert.Equal(t, uint64(2), recovered.Seq)
}

func TestRecover_DeletedTerminalState(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()
	conn := testConn("conn-1")

	_, err := j.Append(ctx, "conn-1", connection.Event{Type: connection.EventCreated, Connection: &conn})
	require.NoError(t, err)
	_, err = j.Append(ctx, "conn-1", connection.Event{Type: connection.EventDeleted})
	require.NoError(t, err)

	state, err := Recover(ctx, j, "conn-1")
	require.NoError(t, err)
	assert.True(t, state.IsDeleted())
	assert.Equal(t, connection.LifecycleDeleted, state.Connection.Lifecycle)
}

func TestMemory_ConnectionIDs(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()
	conn := testConn("b")

	_, err := j.Append(ctx, "b", connection.Event{Type: connection.EventCreated, Connection: &conn})
	require.NoError(t, err)
	_, err = j.Append(ctx, "a", connection.Event{Type: connection.EventCreated, Connection: &conn})
	require.NoError(t, err)

	ids, err := j.ConnectionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
