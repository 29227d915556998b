// Package pubsub routes outbound-eligible signals from the platform message
// bus to the connections subscribed to their topic kinds. Each topic kind
// maps to one bus subject; a connection subscribes to the union of kinds its
// targets request.
package pubsub

import (
	"context"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Handler receives one signal routed to a subscriber.
type Handler func(ctx context.Context, s signal.Signal)

// Registry registers connections for the signal streams their targets
// subscribe to. Subscribe replaces the subscriber's previous topic set;
// implementations diff against it, dropping removed subjects and adding new
// ones.
type Registry interface {
	Subscribe(subscriberID string, kinds []connection.TopicKind, handler Handler) error
	RemoveSubscriber(subscriberID string) error
}

// SubjectFor maps a topic kind to its bus subject.
func SubjectFor(kind connection.TopicKind) string {
	switch kind {
	case connection.TopicTwinEvents:
		return "signals.twin.events"
	case connection.TopicLiveEvents:
		return "signals.live.events"
	case connection.TopicLiveMessages:
		return "signals.live.messages"
	case connection.TopicLiveCommands:
		return "signals.live.commands"
	default:
		return ""
	}
}
