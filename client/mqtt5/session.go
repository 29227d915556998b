// Package mqtt5 implements the MQTT 5 protocol session. MQTT 5 user
// properties map directly onto message headers in both directions.
package mqtt5

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/paho"
	"golang.org/x/time/rate"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/tlsutil"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Session is one MQTT 5 client session.
type Session struct {
	conn    connection.Connection
	inbound client.InboundFunc
	log     *slog.Logger

	mu     sync.Mutex
	mqtt   *paho.Client
	netCon net.Conn
	cancel context.CancelFunc
	errs   chan error
}

// Factory builds mqtt5 sessions.
func Factory(conn connection.Connection, inbound client.InboundFunc) (client.Session, error) {
	return New(conn, inbound, slog.Default()), nil
}

// New builds a disconnected session.
func New(conn connection.Connection, inbound client.InboundFunc, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		inbound: inbound,
		log:     logger.With("connection_id", conn.ID, "protocol", "mqtt5"),
		errs:    make(chan error, 4),
	}
}

// Errors yields asynchronous connection loss.
func (s *Session) Errors() <-chan error { return s.errs }

// Connect dials the broker, performs the MQTT 5 handshake, and subscribes
// every source address.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := url.Parse(s.conn.URI)
	if err != nil {
		return gwerrors.WrapFatal(err, "mqtt5", "Connect", "parse broker URI")
	}

	var netCon net.Conn
	dialer := &net.Dialer{}
	switch u.Scheme {
	case "ssl", "tls", "mqtts":
		netCon, err = tls.DialWithDialer(dialer, "tcp", u.Host,
			tlsutil.ClientConfig(s.conn.ValidateCertificates))
	default:
		netCon, err = dialer.DialContext(ctx, "tcp", u.Host)
	}
	if err != nil {
		return gwerrors.WrapTransient(err, "mqtt5", "Connect", "dial broker")
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	limiters := sourceLimiters(s.conn.Sources)

	c := paho.NewClient(paho.ClientConfig{
		Conn: netCon,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				source, ok := matchSource(s.conn.Sources, pr.Packet.Topic)
				if !ok {
					return false, nil
				}
				if limiter := limiters[source.Addresses[0]]; limiter != nil {
					if err := limiter.Wait(consumeCtx); err != nil {
						return false, nil
					}
				}
				s.inbound(consumeCtx, inboundMessage(source, pr.Packet))
				return true, nil
			},
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			cancel()
			select {
			case s.errs <- gwerrors.WrapTransient(
				fmt.Errorf("server disconnect, reason code %d", d.ReasonCode),
				"mqtt5", "session", "connection lost"):
			default:
			}
		},
		OnClientError: func(err error) {
			cancel()
			select {
			case s.errs <- gwerrors.WrapTransient(err, "mqtt5", "session", "connection lost"):
			default:
			}
		},
	})

	connAck, err := c.Connect(ctx, &paho.Connect{
		ClientID:   "connectivity-" + s.conn.ID,
		KeepAlive:  30,
		CleanStart: true,
	})
	if err != nil {
		cancel()
		_ = netCon.Close()
		return gwerrors.WrapTransient(err, "mqtt5", "Connect", "connect to broker")
	}
	if connAck.ReasonCode != 0 {
		cancel()
		_ = netCon.Close()
		return gwerrors.WrapTransient(
			fmt.Errorf("connack reason code %d", connAck.ReasonCode),
			"mqtt5", "Connect", "broker refused connection")
	}

	for _, source := range s.conn.Sources {
		for _, address := range source.Addresses {
			_, err := c.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: address, QoS: 1}},
			})
			if err != nil {
				cancel()
				_ = c.Disconnect(&paho.Disconnect{ReasonCode: 0})
				return gwerrors.WrapTransient(err, "mqtt5", "Connect",
					fmt.Sprintf("subscribe %q", address))
			}
		}
	}

	s.mqtt = c
	s.netCon = netCon
	s.cancel = cancel
	return nil
}

func sourceLimiters(sources []connection.Source) map[string]*rate.Limiter {
	limiters := map[string]*rate.Limiter{}
	for _, source := range sources {
		if source.ThrottlePerSecond > 0 && len(source.Addresses) > 0 {
			limiters[source.Addresses[0]] = rate.NewLimiter(
				rate.Limit(source.ThrottlePerSecond), source.ThrottlePerSecond)
		}
	}
	return limiters
}

// matchSource finds the source whose topic filter covers the publish topic.
func matchSource(sources []connection.Source, topic string) (connection.Source, bool) {
	for _, source := range sources {
		for _, address := range source.Addresses {
			if topicFilterMatches(address, topic) {
				return source, true
			}
		}
	}
	return connection.Source{}, false
}

func inboundMessage(source connection.Source, p *paho.Publish) external.Message {
	headers := map[string]string{
		"mqtt.topic": p.Topic,
		"mqtt.qos":   fmt.Sprint(p.QoS),
	}
	if p.Properties != nil {
		for _, prop := range p.Properties.User {
			headers[prop.Key] = prop.Value
		}
		if p.Properties.ContentType != "" {
			headers["content-type"] = p.Properties.ContentType
		}
		if len(p.Properties.CorrelationData) > 0 {
			headers["correlation-id"] = string(p.Properties.CorrelationData)
		}
	}
	return external.NewMessage(headers).
		WithBytePayload(p.Payload).
		WithSourceAddress(p.Topic).
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
	err := s.mqtt.Disconnect(&paho.Disconnect{ReasonCode: 0})
	s.mqtt = nil
	s.netCon = nil
	if err != nil {
		return gwerrors.Wrap(err, "mqtt5", "Disconnect", "send disconnect")
	}
	return nil
}

// Publish sends one message at the target's QoS level, mapping headers to
// MQTT 5 user properties.
func (s *Session) Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	s.mu.Lock()
	c := s.mqtt
	s.mu.Unlock()
	if c == nil {
		return nil, gwerrors.ErrConnectionLost
	}

	props := &paho.PublishProperties{ContentType: msg.ContentType()}
	for k, v := range msg.Headers() {
		props.User = append(props.User, paho.UserProperty{Key: k, Value: v})
	}
	if cid := msg.CorrelationID(); cid != "" {
		props.CorrelationData = []byte(cid)
	}

	qos := byte(1)
	if target.QoS >= 0 && target.QoS <= 2 {
		qos = byte(target.QoS)
	}
	_, err := c.Publish(ctx, &paho.Publish{
		Topic:      target.Address,
		QoS:        qos,
		Payload:    msg.PayloadBytes(),
		Properties: props,
	})
	if err != nil {
		return nil, gwerrors.WrapTransient(err, "mqtt5", "Publish",
			fmt.Sprintf("publish to %q", target.Address))
	}
	if target.IssuedAckLabel == "" {
		return nil, nil
	}
	ack := signal.NewAcknowledgement(target.IssuedAckLabel, signal.EntityID{}, msg.CorrelationID())
	return &ack, nil
}

// topicFilterMatches implements MQTT topic filter matching with + and #
// wildcards.
func topicFilterMatches(filter, topic string) bool {
	return matchLevels(splitLevels(filter), splitLevels(topic))
}

func splitLevels(s string) []string {
	var levels []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			levels = append(levels, s[start:i])
			start = i + 1
		}
	}
	return append(levels, s[start:])
}

func matchLevels(filter, topic []string) bool {
	for i, level := range filter {
		if level == "#" {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if level != "+" && level != topic[i] {
			return false
		}
	}
	return len(filter) == len(topic)
}
