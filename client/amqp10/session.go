// Package amqp10 implements the AMQP 1.0 protocol session. Source and
// target addresses are link addresses on the broker.
package amqp10

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	amqp "github.com/Azure/go-amqp"
	"golang.org/x/time/rate"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/tlsutil"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Session is one AMQP 1.0 connection with a single session hosting all
// receiver and sender links.
type Session struct {
	conn    connection.Connection
	inbound client.InboundFunc
	log     *slog.Logger

	mu      sync.Mutex
	amqp    *amqp.Conn
	session *amqp.Session
	senders map[string]*amqp.Sender
	cancel  context.CancelFunc
	errs    chan error
}

// Factory builds amqp10 sessions.
func Factory(conn connection.Connection, inbound client.InboundFunc) (client.Session, error) {
	return New(conn, inbound, slog.Default()), nil
}

// New builds a disconnected session.
func New(conn connection.Connection, inbound client.InboundFunc, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		inbound: inbound,
		log:     logger.With("connection_id", conn.ID, "protocol", "amqp10"),
		senders: map[string]*amqp.Sender{},
		errs:    make(chan error, 4),
	}
}

// Errors yields asynchronous connection loss.
func (s *Session) Errors() <-chan error { return s.errs }

// Connect dials the broker and attaches one receiver link per source
// address.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := &amqp.ConnOptions{ContainerID: "connectivity-" + s.conn.ID}
	if strings.HasPrefix(s.conn.URI, "amqps://") {
		opts.TLSConfig = tlsutil.ClientConfig(s.conn.ValidateCertificates)
	}
	conn, err := amqp.Dial(ctx, s.conn.URI, opts)
	if err != nil {
		return gwerrors.WrapTransient(err, "amqp10", "Connect", "dial broker")
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return gwerrors.WrapTransient(err, "amqp10", "Connect", "open session")
	}

	receiveCtx, cancel := context.WithCancel(context.Background())
	for _, source := range s.conn.Sources {
		for _, address := range source.Addresses {
			receiver, err := session.NewReceiver(ctx, address, &amqp.ReceiverOptions{
				Credit: 50,
			})
			if err != nil {
				cancel()
				_ = conn.Close()
				return gwerrors.WrapTransient(err, "amqp10", "Connect",
					fmt.Sprintf("attach receiver %q", address))
			}
			go s.receive(receiveCtx, source, address, receiver)
		}
	}

	go func() {
		<-conn.Done()
		cancel()
		if err := conn.Err(); err != nil {
			select {
			case s.errs <- gwerrors.WrapTransient(err, "amqp10", "session", "connection closed"):
			default:
			}
		}
	}()

	s.amqp = conn
	s.session = session
	s.cancel = cancel
	return nil
}

func (s *Session) receive(ctx context.Context, source connection.Source, address string, receiver *amqp.Receiver) {
	var limiter *rate.Limiter
	if source.ThrottlePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(source.ThrottlePerSecond), source.ThrottlePerSecond)
	}
	for {
		msg, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("receive failed", "address", address, "error", err)
			}
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		s.inbound(ctx, inboundMessage(source, address, msg))
		if err := receiver.AcceptMessage(ctx, msg); err != nil && ctx.Err() == nil {
			s.log.Warn("accept failed", "address", address, "error", err)
		}
	}
}

func inboundMessage(source connection.Source, address string, msg *amqp.Message) external.Message {
	headers := make(map[string]string, len(msg.ApplicationProperties)+2)
	for k, v := range msg.ApplicationProperties {
		headers[k] = fmt.Sprint(v)
	}
	if msg.Properties != nil {
		if msg.Properties.ContentType != nil {
			headers["content-type"] = *msg.Properties.ContentType
		}
		if msg.Properties.CorrelationID != nil {
			headers["correlation-id"] = fmt.Sprint(msg.Properties.CorrelationID)
		}
	}
	return external.NewMessage(headers).
		WithBytePayload(msg.GetData()).
		WithSourceAddress(address).
		WithPayloadMapping(source.PayloadMapping)
}

// Disconnect detaches all links and closes the connection.
func (s *Session) Disconnect(ctx context.Context) error {
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
	s.session = nil
	s.senders = map[string]*amqp.Sender{}
	if err != nil {
		return gwerrors.Wrap(err, "amqp10", "Disconnect", "close connection")
	}
	return nil
}

// Publish sends one message over the target's sender link, attaching it on
// first use. Settlement by the broker is the issued acknowledgement.
func (s *Session) Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	sender, err := s.sender(ctx, target.Address)
	if err != nil {
		return nil, err
	}

	out := amqp.NewMessage(msg.PayloadBytes())
	out.ApplicationProperties = map[string]any{}
	for k, v := range msg.Headers() {
		out.ApplicationProperties[k] = v
	}
	contentType := msg.ContentType()
	out.Properties = &amqp.MessageProperties{ContentType: &contentType}
	if cid := msg.CorrelationID(); cid != "" {
		out.Properties.CorrelationID = cid
	}

	if err := sender.Send(ctx, out, nil); err != nil {
		return nil, gwerrors.WrapTransient(err, "amqp10", "Publish",
			fmt.Sprintf("send to %q", target.Address))
	}
	if target.IssuedAckLabel == "" {
		return nil, nil
	}
	ack := signal.NewAcknowledgement(target.IssuedAckLabel, signal.EntityID{}, msg.CorrelationID())
	return &ack, nil
}

func (s *Session) sender(ctx context.Context, address string) (*amqp.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, gwerrors.ErrConnectionLost
	}
	if sender, ok := s.senders[address]; ok {
		return sender, nil
	}
	sender, err := s.session.NewSender(ctx, address, nil)
	if err != nil {
		return nil, gwerrors.WrapTransient(err, "amqp10", "Publish",
			fmt.Sprintf("attach sender %q", address))
	}
	s.senders[address] = sender
	return sender, nil
}
