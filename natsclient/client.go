// Package natsclient manages the gateway's NATS connection: the platform
// message bus carrying signals and the JetStream context backing the
// connection journal.
package natsclient

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
)

// Config holds the NATS connection settings.
type Config struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	MaxReconnects  int           `yaml:"maxReconnects"`
	ReconnectWait  time.Duration `yaml:"reconnectWait"`
}

// DefaultConfig returns the settings for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "connectivity",
		ConnectTimeout: 5 * time.Second,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	}
}

// Client wraps one NATS connection and its JetStream context.
type Client struct {
	log *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect establishes the connection. Reconnection is delegated to the NATS
// client library.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{log: logger}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, gwerrors.WrapTransient(err, "natsclient", "Connect", "connect to NATS")
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, gwerrors.WrapFatal(err, "natsclient", "Connect", "create JetStream context")
	}

	c.conn = conn
	c.js = js
	return c, nil
}

// Conn returns the raw NATS connection.
func (c *Client) Conn() *nats.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.js
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.log.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
	c.conn = nil
	c.js = nil
}
