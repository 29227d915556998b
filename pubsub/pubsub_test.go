package pubsub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

func eventSignal(channel signal.Channel) signal.Signal {
	return signal.New(signal.Adaptable{
		Topic: signal.TopicPath{
			Namespace:  "org.acme",
			EntityName: "sensor-1",
			Group:      signal.GroupThings,
			Channel:    channel,
			Criterion:  signal.CriterionEvents,
			Action:     "modified",
		},
		Path: "/",
	})
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		kind    connection.TopicKind
		subject string
	}{
		{connection.TopicTwinEvents, "signals.twin.events"},
		{connection.TopicLiveEvents, "signals.live.events"},
		{connection.TopicLiveMessages, "signals.live.messages"},
		{connection.TopicLiveCommands, "signals.live.commands"},
		{connection.TopicKind("bogus"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.subject, SubjectFor(tt.kind))
	}
}

func TestSubjectForSignalFallbacks(t *testing.T) {
	ack := signal.New(signal.Adaptable{
		Topic: signal.TopicPath{
			Namespace: "org.acme", EntityName: "sensor-1",
			Group: signal.GroupThings, Channel: signal.ChannelTwin,
			Criterion: signal.CriterionAcks, Action: "custom-ack",
		},
	})
	assert.Equal(t, "signals.acks", subjectForSignal(ack))

	command := signal.New(signal.Adaptable{
		Topic: signal.TopicPath{
			Namespace: "org.acme", EntityName: "sensor-1",
			Group: signal.GroupThings, Channel: signal.ChannelTwin,
			Criterion: signal.CriterionCommands, Action: "modify",
		},
	})
	assert.Equal(t, "signals.twin.commands", subjectForSignal(command))
}

func TestMemoryRoutesByTopicKind(t *testing.T) {
	registry := NewMemory()

	var mu sync.Mutex
	var received []signal.Signal
	handler := func(_ context.Context, s signal.Signal) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, s)
	}

	require.NoError(t, registry.Subscribe("c1", []connection.TopicKind{connection.TopicTwinEvents}, handler))

	require.NoError(t, registry.Publish(context.Background(), eventSignal(signal.ChannelTwin)))
	require.NoError(t, registry.Publish(context.Background(), eventSignal(signal.ChannelLive)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, signal.ChannelTwin, received[0].Topic.Channel)
}

func TestMemorySubscribeReplacesTopicSet(t *testing.T) {
	registry := NewMemory()
	handler := func(context.Context, signal.Signal) {}

	require.NoError(t, registry.Subscribe("c1", []connection.TopicKind{
		connection.TopicTwinEvents, connection.TopicLiveEvents,
	}, handler))
	assert.ElementsMatch(t,
		[]string{"signals.twin.events", "signals.live.events"},
		registry.Subjects("c1"))

	// Re-subscribing diffs: live events drops out, live messages joins.
	require.NoError(t, registry.Subscribe("c1", []connection.TopicKind{
		connection.TopicTwinEvents, connection.TopicLiveMessages,
	}, handler))
	assert.ElementsMatch(t,
		[]string{"signals.twin.events", "signals.live.messages"},
		registry.Subjects("c1"))
}

func TestMemoryRemoveSubscriber(t *testing.T) {
	registry := NewMemory()

	delivered := 0
	require.NoError(t, registry.Subscribe("c1", []connection.TopicKind{connection.TopicTwinEvents},
		func(context.Context, signal.Signal) { delivered++ }))
	require.NoError(t, registry.RemoveSubscriber("c1"))

	require.NoError(t, registry.Publish(context.Background(), eventSignal(signal.ChannelTwin)))
	assert.Zero(t, delivered)
	assert.Empty(t, registry.Subjects("c1"))
}
