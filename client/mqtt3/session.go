// Package mqtt3 implements the MQTT 3.1.1 protocol session. Source and
// target addresses are MQTT topic filters and topics.
package mqtt3

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/tlsutil"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Session is one MQTT 3.1.1 client session.
type Session struct {
	conn    connection.Connection
	inbound client.InboundFunc
	log     *slog.Logger

	mu     sync.Mutex
	mqtt   mqtt.Client
	cancel context.CancelFunc
	errs   chan error
}

// Factory builds mqtt3 sessions.
func Factory(conn connection.Connection, inbound client.InboundFunc) (client.Session, error) {
	return New(conn, inbound, slog.Default()), nil
}

// New builds a disconnected session.
func New(conn connection.Connection, inbound client.InboundFunc, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		inbound: inbound,
		log:     logger.With("connection_id", conn.ID, "protocol", "mqtt3"),
		errs:    make(chan error, 4),
	}
}

// Errors yields asynchronous connection loss.
func (s *Session) Errors() <-chan error { return s.errs }

// Connect establishes the MQTT session and subscribes every source address.
// Reconnection is left to the owning state machine, not the library.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := mqtt.NewClientOptions().
		AddBroker(s.conn.URI).
		SetClientID("connectivity-" + s.conn.ID).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case s.errs <- gwerrors.WrapTransient(err, "mqtt3", "session", "connection lost"):
			default:
			}
		})
	if strings.HasPrefix(s.conn.URI, "ssl://") || strings.HasPrefix(s.conn.URI, "tls://") || strings.HasPrefix(s.conn.URI, "mqtts://") {
		opts.SetTLSConfig(tlsutil.ClientConfig(s.conn.ValidateCertificates))
	}

	c := mqtt.NewClient(opts)
	if err := wait(ctx, c.Connect()); err != nil {
		return gwerrors.WrapTransient(err, "mqtt3", "Connect", "connect to broker")
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	for _, source := range s.conn.Sources {
		source := source
		var limiter *rate.Limiter
		if source.ThrottlePerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(source.ThrottlePerSecond), source.ThrottlePerSecond)
		}
		handler := func(_ mqtt.Client, m mqtt.Message) {
			if limiter != nil {
				if err := limiter.Wait(consumeCtx); err != nil {
					return
				}
			}
			s.inbound(consumeCtx, inboundMessage(source, m))
		}
		for _, address := range source.Addresses {
			if err := wait(ctx, c.Subscribe(address, 1, handler)); err != nil {
				cancel()
				c.Disconnect(250)
				return gwerrors.WrapTransient(err, "mqtt3", "Connect",
					fmt.Sprintf("subscribe %q", address))
			}
		}
	}

	s.mqtt = c
	s.cancel = cancel
	return nil
}

func inboundMessage(source connection.Source, m mqtt.Message) external.Message {
	return external.NewMessage(map[string]string{
		"mqtt.topic": m.Topic(),
		"mqtt.qos":   fmt.Sprint(m.Qos()),
	}).
		WithBytePayload(m.Payload()).
		WithSourceAddress(m.Topic()).
		WithPayloadMapping(source.PayloadMapping)
}

// Disconnect closes the session.
func (s *Session) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.mqtt == nil {
		return nil
	}
	s.mqtt.Disconnect(250)
	s.mqtt = nil
	return nil
}

// Publish sends one message at the target's QoS level.
func (s *Session) Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	s.mu.Lock()
	c := s.mqtt
	s.mu.Unlock()
	if c == nil {
		return nil, gwerrors.ErrConnectionLost
	}

	qos := byte(target.QoS)
	if qos > 2 {
		qos = 1
	}
	if err := wait(ctx, c.Publish(target.Address, qos, false, msg.PayloadBytes())); err != nil {
		return nil, gwerrors.WrapTransient(err, "mqtt3", "Publish",
			fmt.Sprintf("publish to %q", target.Address))
	}
	if target.IssuedAckLabel == "" {
		return nil, nil
	}
	ack := signal.NewAcknowledgement(target.IssuedAckLabel, signal.EntityID{}, msg.CorrelationID())
	return &ack, nil
}

// wait blocks on a paho token honoring context cancellation.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
