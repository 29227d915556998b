// Package kafka implements the Kafka protocol session using franz-go.
// Source addresses are consumed topics; target addresses are produce topics.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/time/rate"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/tlsutil"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Session is one Kafka client covering both the consumer group for the
// connection's sources and the producer for its targets.
type Session struct {
	conn    connection.Connection
	inbound client.InboundFunc
	log     *slog.Logger

	mu     sync.Mutex
	kafka  *kgo.Client
	cancel context.CancelFunc
	errs   chan error
}

// Factory builds kafka sessions.
func Factory(conn connection.Connection, inbound client.InboundFunc) (client.Session, error) {
	return New(conn, inbound, slog.Default()), nil
}

// New builds a disconnected session.
func New(conn connection.Connection, inbound client.InboundFunc, logger *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		inbound: inbound,
		log:     logger.With("connection_id", conn.ID, "protocol", "kafka"),
		errs:    make(chan error, 4),
	}
}

// Errors yields asynchronous connection loss.
func (s *Session) Errors() <-chan error { return s.errs }

// Connect builds the client, verifies broker reachability, and starts the
// poll loop when the connection has sources.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	brokers, useTLS, err := parseBrokers(s.conn.URI)
	if err != nil {
		return gwerrors.WrapFatal(err, "kafka", "Connect", "parse broker URI")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("connectivity-" + s.conn.ID),
	}
	if useTLS {
		opts = append(opts, kgo.DialTLSConfig(tlsutil.ClientConfig(s.conn.ValidateCertificates)))
	}
	if topics := sourceTopics(s.conn.Sources); len(topics) > 0 {
		opts = append(opts,
			kgo.ConsumerGroup("connectivity-"+s.conn.ID),
			kgo.ConsumeTopics(topics...),
		)
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return gwerrors.WrapTransient(err, "kafka", "Connect", "build client")
	}
	if err := cl.Ping(ctx); err != nil {
		cl.Close()
		return gwerrors.WrapTransient(err, "kafka", "Connect", "ping brokers")
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	if len(sourceTopics(s.conn.Sources)) > 0 {
		go s.poll(pollCtx, cl)
	}

	s.kafka = cl
	s.cancel = cancel
	return nil
}

func (s *Session) poll(ctx context.Context, cl *kgo.Client) {
	limiters := map[string]*rate.Limiter{}
	sourceByTopic := map[string]connection.Source{}
	for _, source := range s.conn.Sources {
		for _, topic := range source.Addresses {
			sourceByTopic[topic] = source
			if source.ThrottlePerSecond > 0 {
				limiters[topic] = rate.NewLimiter(
					rate.Limit(source.ThrottlePerSecond), source.ThrottlePerSecond)
			}
		}
	}

	for {
		fetches := cl.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			select {
			case s.errs <- gwerrors.WrapTransient(errs[0].Err, "kafka", "session",
				fmt.Sprintf("fetch from %q", errs[0].Topic)):
			default:
			}
			return
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			if limiter := limiters[rec.Topic]; limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			s.inbound(ctx, inboundMessage(sourceByTopic[rec.Topic], rec))
		})
	}
}

func inboundMessage(source connection.Source, rec *kgo.Record) external.Message {
	headers := map[string]string{
		"kafka.topic":     rec.Topic,
		"kafka.partition": fmt.Sprint(rec.Partition),
		"kafka.offset":    fmt.Sprint(rec.Offset),
	}
	if len(rec.Key) > 0 {
		headers["kafka.key"] = string(rec.Key)
	}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	return external.NewMessage(headers).
		WithBytePayload(rec.Value).
		WithSourceAddress(rec.Topic).
		WithPayloadMapping(source.PayloadMapping)
}

// Disconnect stops polling and closes the client.
func (s *Session) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.kafka == nil {
		return nil
	}
	s.kafka.Close()
	s.kafka = nil
	return nil
}

// Publish produces one record synchronously. Target addresses of the form
// "topic/key" set the record key for partitioning.
func (s *Session) Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	s.mu.Lock()
	cl := s.kafka
	s.mu.Unlock()
	if cl == nil {
		return nil, gwerrors.ErrConnectionLost
	}

	topic, key := splitAddress(target.Address)
	rec := &kgo.Record{Topic: topic, Value: msg.PayloadBytes()}
	if key != "" {
		rec.Key = []byte(key)
	}
	for k, v := range msg.Headers() {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := cl.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return nil, gwerrors.WrapTransient(err, "kafka", "Publish",
			fmt.Sprintf("produce to %q", topic))
	}
	if target.IssuedAckLabel == "" {
		return nil, nil
	}
	ack := signal.NewAcknowledgement(target.IssuedAckLabel, signal.EntityID{}, msg.CorrelationID())
	return &ack, nil
}

func sourceTopics(sources []connection.Source) []string {
	var topics []string
	for _, source := range sources {
		topics = append(topics, source.Addresses...)
	}
	return topics
}

func splitAddress(address string) (topic, key string) {
	if i := strings.Index(address, "/"); i >= 0 {
		return address[:i], address[i+1:]
	}
	return address, ""
}

// parseBrokers accepts "kafka://host:port,host:port" or a bare host list,
// with "kafka+ssl" or "ssl" selecting TLS.
func parseBrokers(uri string) (brokers []string, useTLS bool, err error) {
	hosts := uri
	if strings.Contains(uri, "://") {
		u, parseErr := url.Parse(uri)
		if parseErr != nil {
			return nil, false, parseErr
		}
		useTLS = strings.Contains(u.Scheme, "ssl") || strings.Contains(u.Scheme, "tls")
		hosts = u.Host
	}
	for _, host := range strings.Split(hosts, ",") {
		if host = strings.TrimSpace(host); host != "" {
			brokers = append(brokers, host)
		}
	}
	if len(brokers) == 0 {
		return nil, false, fmt.Errorf("no brokers in URI %q", uri)
	}
	return brokers, useTLS, nil
}
