package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// NATS routes signals over core NATS subjects.
type NATS struct {
	conn *nats.Conn
	log  *slog.Logger

	mu   sync.Mutex
	subs map[string]map[string]*nats.Subscription
}

// NewNATS creates a registry on an established connection.
func NewNATS(conn *nats.Conn, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{
		conn: conn,
		log:  logger,
		subs: map[string]map[string]*nats.Subscription{},
	}
}

// Subscribe registers the subscriber for the given topic kinds, diffing
// against its current subject set.
func (n *NATS) Subscribe(subscriberID string, kinds []connection.TopicKind, handler Handler) error {
	wanted := map[string]struct{}{}
	for _, kind := range kinds {
		if subject := SubjectFor(kind); subject != "" {
			wanted[subject] = struct{}{}
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	current, ok := n.subs[subscriberID]
	if !ok {
		current = map[string]*nats.Subscription{}
		n.subs[subscriberID] = current
	}

	for subject, sub := range current {
		if _, keep := wanted[subject]; keep {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			n.log.Warn("unsubscribe failed", "subject", subject, "error", err)
		}
		delete(current, subject)
	}

	for subject := range wanted {
		if _, exists := current[subject]; exists {
			continue
		}
		sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
			s, err := signal.ParseJSON(msg.Data)
			if err != nil {
				n.log.Warn("dropping unparseable signal", "subject", msg.Subject, "error", err)
				return
			}
			handler(context.Background(), s)
		})
		if err != nil {
			return gwerrors.WrapTransient(err, "pubsub", "Subscribe",
				fmt.Sprintf("subscribe %q", subject))
		}
		current[subject] = sub
	}
	return nil
}

// RemoveSubscriber drops all of the subscriber's subscriptions.
func (n *NATS) RemoveSubscriber(subscriberID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for subject, sub := range n.subs[subscriberID] {
		if err := sub.Unsubscribe(); err != nil {
			n.log.Warn("unsubscribe failed", "subject", subject, "error", err)
		}
	}
	delete(n.subs, subscriberID)
	return nil
}

// Publish puts a signal on the bus subject matching its topic kinds, making
// it visible to every subscribed connection.
func (n *NATS) Publish(_ context.Context, s signal.Signal) error {
	subject := subjectForSignal(s)
	if subject == "" {
		return gwerrors.WrapInvalid(gwerrors.ErrInvalidSignal, "pubsub", "Publish",
			"signal matches no bus subject")
	}
	data, err := s.ToJSON()
	if err != nil {
		return gwerrors.WrapInvalid(err, "pubsub", "Publish", "serialize signal")
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return gwerrors.WrapTransient(err, "pubsub", "Publish",
			fmt.Sprintf("publish %q", subject))
	}
	return nil
}

// subjectForSignal routes a signal to its bus subject. Signals outside the
// subscribable streams, inbound twin commands and acknowledgements among
// them, go to dedicated subjects consumed by the platform rather than by
// connections.
func subjectForSignal(s signal.Signal) string {
	for _, kind := range []connection.TopicKind{
		connection.TopicTwinEvents,
		connection.TopicLiveEvents,
		connection.TopicLiveMessages,
		connection.TopicLiveCommands,
	} {
		if kind.Matches(s) {
			return SubjectFor(kind)
		}
	}
	switch s.Topic.Criterion {
	case signal.CriterionCommands:
		return "signals.twin.commands"
	case signal.CriterionAcks:
		return "signals.acks"
	case signal.CriterionErrors:
		return "signals.errors"
	default:
		return ""
	}
}
