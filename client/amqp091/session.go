// Package amqp091 implements the AMQP 0.9.1 protocol session using the
// rabbitmq client library. Source addresses are queue names; target
// addresses take the form "exchange/routing.key" or a plain queue name
// published via the default exchange.
package amqp091

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/tlsutil"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Session is one AMQP 0.9.1 connection with a single channel shared by all
// consumers and publishes.
type Session struct {
	conn    connection.Connection
	inbound client.InboundFunc
	log     *slog.Logger

	mu      sync.Mutex
	amqp    *amqp.Connection
	channel *amqp.Channel
	cancel  context.CancelFunc
	errs    chan error
}

// Factory builds amqp091 sessions.
func Factory(conn connection.Connection, inbound client.InboundFunc) (client.Session, error) {
	return New(conn, inbound, slog.Default()), nil
}

// New builds a disconnected session.
func New(conn connection.Connection, inbound client.InboundFunc, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		inbound: inbound,
		log:     logger.With("connection_id", conn.ID, "protocol", "amqp091"),
		errs:    make(chan error, 4),
	}
}

// Errors yields asynchronous connection loss.
func (s *Session) Errors() <-chan error { return s.errs }

// Connect dials the broker, opens the channel in confirm mode, and starts
// one consumer per configured source address.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := amqp.Config{Properties: amqp.NewConnectionProperties()}
	if strings.HasPrefix(s.conn.URI, "amqps://") {
		cfg.TLSClientConfig = tlsutil.ClientConfig(s.conn.ValidateCertificates)
	}
	conn, err := amqp.DialConfig(s.conn.URI, cfg)
	if err != nil {
		return gwerrors.WrapTransient(err, "amqp091", "Connect", "dial broker")
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return gwerrors.WrapTransient(err, "amqp091", "Connect", "open channel")
	}
	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()
		return gwerrors.WrapTransient(err, "amqp091", "Connect", "enable confirms")
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	for _, source := range s.conn.Sources {
		for _, address := range source.Addresses {
			count := source.ConsumerCount
			if count <= 0 {
				count = 1
			}
			for i := 0; i < count; i++ {
				deliveries, err := channel.Consume(address,
					fmt.Sprintf("%s-%s-%d", s.conn.ID, address, i),
					false, false, false, false, nil)
				if err != nil {
					cancel()
					_ = conn.Close()
					return gwerrors.WrapTransient(err, "amqp091", "Connect",
						fmt.Sprintf("consume %q", address))
				}
				go s.consume(consumeCtx, source, address, deliveries)
			}
		}
	}

	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closes; ok && amqpErr != nil {
			cancel()
			select {
			case s.errs <- gwerrors.WrapTransient(amqpErr, "amqp091", "session", "connection closed"):
			default:
			}
		}
	}()

	s.amqp = conn
	s.channel = channel
	s.cancel = cancel
	return nil
}

func (s *Session) consume(ctx context.Context, source connection.Source, address string, deliveries <-chan amqp.Delivery) {
	var limiter *rate.Limiter
	if source.ThrottlePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(source.ThrottlePerSecond), source.ThrottlePerSecond)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			s.inbound(ctx, inboundMessage(source, address, d))
			if err := d.Ack(false); err != nil {
				s.log.Warn("delivery ack failed", "address", address, "error", err)
			}
		}
	}
}

func inboundMessage(source connection.Source, address string, d amqp.Delivery) external.Message {
	headers := make(map[string]string, len(d.Headers)+2)
	for k, v := range d.Headers {
		headers[k] = fmt.Sprint(v)
	}
	if d.ContentType != "" {
		headers["content-type"] = d.ContentType
	}
	if d.CorrelationId != "" {
		headers["correlation-id"] = d.CorrelationId
	}
	return external.NewMessage(headers).
		WithBytePayload(d.Body).
		WithSourceAddress(address).
		WithPayloadMapping(source.PayloadMapping)
}

// Disconnect stops consumers and closes the connection.
func (s *Session) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.amqp == nil {
		return nil
	}
	err := s.amqp.Close()
	s.amqp = nil
	s.channel = nil
	if err != nil {
		return gwerrors.Wrap(err, "amqp091", "Disconnect", "close connection")
	}
	return nil
}

// Publish sends one message and waits for the broker confirm. The confirm is
// reported as the target's issued acknowledgement.
func (s *Session) Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		return nil, gwerrors.ErrConnectionLost
	}

	exchange, key := splitAddress(target.Address)
	publishing := amqp.Publishing{
		Headers:       amqp.Table{},
		ContentType:   msg.ContentType(),
		CorrelationId: msg.CorrelationID(),
		Body:          msg.PayloadBytes(),
	}
	for k, v := range msg.Headers() {
		publishing.Headers[k] = v
	}

	confirm, err := channel.PublishWithDeferredConfirmWithContext(
		ctx, exchange, key, false, false, publishing)
	if err != nil {
		return nil, gwerrors.WrapTransient(err, "amqp091", "Publish",
			fmt.Sprintf("publish to %q", target.Address))
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return nil, gwerrors.WrapTransient(err, "amqp091", "Publish", "await confirm")
	}
	if !acked {
		return nil, gwerrors.Wrap(gwerrors.ErrPublishFailed, "amqp091", "Publish", "broker nacked message")
	}
	if target.IssuedAckLabel == "" {
		return nil, nil
	}
	ack := signal.NewAcknowledgement(target.IssuedAckLabel, signal.EntityID{}, msg.CorrelationID())
	return &ack, nil
}

// splitAddress parses "exchange/routing.key"; a bare name publishes to the
// default exchange with the name as routing key.
func splitAddress(address string) (exchange, key string) {
	if i := strings.Index(address, "/"); i >= 0 {
		return address[:i], address[i+1:]
	}
	return "", address
}
