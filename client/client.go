// Package client runs the per-connection protocol session state machine:
// connecting with bounded backoff, publishing while connected, and tearing
// the session down on close or failure. The actual wire protocol lives
// behind the Session interface, implemented per connection type in the
// broker subpackages.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/retry"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// State is the client session state.
type State int32

const (
	// Disconnected is the initial and terminal session state.
	Disconnected State = iota
	// Connecting covers the window between a connect request and its
	// confirmation, including backoff waits between attempts.
	Connecting
	// Connected means the wire session is live.
	Connected
	// Disconnecting covers an in-flight teardown.
	Disconnecting
	// Testing is the pseudo-state of a transient test session.
	Testing
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Testing:
		return "testing"
	default:
		return "unknown"
	}
}

// LiveStatus maps the session state to the connection live status model.
func (s State) LiveStatus() connection.LiveStatus {
	switch s {
	case Connecting, Testing:
		return connection.LiveStatusConnecting
	case Connected:
		return connection.LiveStatusConnected
	case Disconnecting:
		return connection.LiveStatusDisconnecting
	default:
		return connection.LiveStatusDisconnected
	}
}

// InboundFunc receives wire messages consumed from the connection's sources.
// Sessions call it from their consumer goroutines; implementations must be
// safe for concurrent use.
type InboundFunc func(ctx context.Context, msg external.Message)

// Session is one protocol session against a broker. Connect allocates all
// session resources (channels, consumers, subscriptions); Disconnect releases
// them. Errors yields asynchronous session failures such as a closed socket;
// the channel must not block the session.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error)
	Errors() <-chan error
}

// Factory builds a session for a connection. The seam where wire protocol
// implementations plug in.
type Factory func(conn connection.Connection, inbound InboundFunc) (Session, error)

// Test drives a transient session through connect and disconnect. Nothing is
// persisted and no live state is touched; the session exists only for the
// duration of the probe.
func Test(ctx context.Context, session Session, timeout time.Duration) error {
	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := session.Connect(testCtx); err != nil {
		return gwerrors.Wrap(err, "client", "Test", "connect probe failed")
	}
	if err := session.Disconnect(testCtx); err != nil {
		return gwerrors.Wrap(err, "client", "Test", "disconnect after probe failed")
	}
	return nil
}

// Client drives a Session through the connect/disconnect lifecycle. All
// transitions happen on the run loop goroutine; the exported methods only
// exchange messages with it.
type Client struct {
	conn    connection.Connection
	session Session
	log     *slog.Logger
	backoff retry.Config

	state   atomic.Int32
	mailbox chan any
	done    chan struct{}
}

// New builds a client for an established session value. Run must be called
// before any lifecycle method.
func New(conn connection.Connection, session Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	// The supervisor's logger already carries the connection id; only the
	// type is added here.
	return &Client{
		conn:    conn,
		session: session,
		log:     logger.With("connection_type", string(conn.Type)),
		backoff: retry.Reconnect(),
		mailbox: make(chan any, 16),
		done:    make(chan struct{}),
	}
}

// State returns the current session state.
func (c *Client) State() State {
	return State(c.state.Load())
}

type openReq struct {
	reply chan error
}

type closeReq struct {
	reply chan error
}

type publishReq struct {
	ctx    context.Context
	target connection.Target
	msg    external.Message
	reply  chan publishReply
}

type publishReply struct {
	ack *signal.Acknowledgement
	err error
}

type connectResult struct {
	err error
}

// Open requests a connect. It resolves when the session is connected or when
// the first attempt fails; transient failures keep retrying in the
// background with backoff after the caller has been answered.
func (c *Client) Open(ctx context.Context) error {
	req := openReq{reply: make(chan error, 1)}
	return c.send(ctx, req, req.reply)
}

// Close requests a disconnect. While connecting, the in-flight attempt is
// cancelled instead of awaited.
func (c *Client) Close(ctx context.Context) error {
	req := closeReq{reply: make(chan error, 1)}
	return c.send(ctx, req, req.reply)
}

func (c *Client) send(ctx context.Context, req any, reply chan error) error {
	select {
	case c.mailbox <- req:
	case <-c.done:
		return gwerrors.ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return gwerrors.ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish delivers one mapped message to a target. Only valid while
// connected.
func (c *Client) Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	req := publishReq{ctx: ctx, target: target, msg: msg, reply: make(chan publishReply, 1)}
	select {
	case c.mailbox <- req:
	case <-c.done:
		return nil, gwerrors.ErrConnectionLost
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.ack, r.err
	case <-c.done:
		return nil, gwerrors.ErrConnectionLost
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes the state machine until ctx is cancelled. It owns every state
// transition; no other goroutine touches the session lifecycle.
func (c *Client) Run(ctx context.Context) {
	defer close(c.done)

	var (
		connectCancel context.CancelFunc
		connectDone   chan connectResult
		retryC        <-chan time.Time
		attempt       int
		openWaiters   []chan error
	)
	sessionErrs := c.session.Errors()

	setState := func(s State) {
		c.state.Store(int32(s))
	}

	startAttempt := func() {
		attempt++
		var attemptCtx context.Context
		var cancel context.CancelFunc
		if c.backoff.ConnectTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.backoff.ConnectTimeout)
		} else {
			attemptCtx, cancel = context.WithCancel(ctx)
		}
		connectCancel = cancel
		done := make(chan connectResult, 1)
		connectDone = done
		retryC = nil
		go func() {
			// A session that ignores its context must not wedge the state
			// machine, so the deadline is enforced here as well.
			result := make(chan error, 1)
			go func() { result <- c.session.Connect(attemptCtx) }()
			select {
			case err := <-result:
				done <- connectResult{err: err}
			case <-attemptCtx.Done():
				done <- connectResult{err: gwerrors.WrapTransient(attemptCtx.Err(),
					"client", "Open", "connect attempt timed out")}
			}
		}()
	}

	answerOpeners := func(err error) {
		for _, w := range openWaiters {
			w <- err
		}
		openWaiters = nil
	}

	disconnect := func() {
		setState(Disconnecting)
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.session.Disconnect(disconnectCtx); err != nil {
			c.log.Warn("session disconnect failed", "error", err)
		}
		cancel()
		setState(Disconnected)
	}

	for {
		select {
		case <-ctx.Done():
			if connectCancel != nil {
				connectCancel()
			}
			if c.State() == Connected {
				disconnect()
			}
			answerOpeners(gwerrors.ErrConnectionLost)
			return

		case msg := <-c.mailbox:
			switch m := msg.(type) {
			case openReq:
				switch c.State() {
				case Connected:
					m.reply <- nil
				case Connecting:
					openWaiters = append(openWaiters, m.reply)
				default:
					setState(Connecting)
					openWaiters = append(openWaiters, m.reply)
					attempt = 0
					startAttempt()
				}

			case closeReq:
				switch c.State() {
				case Connecting:
					// Cancel the pending attempt rather than waiting
					// for it to resolve.
					if connectCancel != nil {
						connectCancel()
						connectCancel = nil
					}
					connectDone = nil
					retryC = nil
					answerOpeners(gwerrors.ErrConnectionLost)
					setState(Disconnected)
					m.reply <- nil
				case Connected:
					disconnect()
					m.reply <- nil
				default:
					m.reply <- nil
				}

			case publishReq:
				if c.State() != Connected {
					m.reply <- publishReply{err: gwerrors.WrapTransient(
						gwerrors.ErrConnectionLost, "client", "Publish",
						fmt.Sprintf("publish in state %s", c.State()))}
					continue
				}
				// Publishing must not block the state machine.
				go func(req publishReq) {
					ack, err := c.session.Publish(req.ctx, req.target, req.msg)
					req.reply <- publishReply{ack: ack, err: err}
				}(m)
			}

		case result := <-connectDone:
			connectDone = nil
			if connectCancel != nil {
				connectCancel()
				connectCancel = nil
			}
			if c.State() != Connecting {
				continue
			}
			if result.err == nil {
				c.log.Info("connection established", "attempts", attempt)
				setState(Connected)
				answerOpeners(nil)
				continue
			}

			c.log.Warn("connect attempt failed",
				"attempt", attempt, "error", result.err)
			answerOpeners(result.err)

			if gwerrors.IsFatal(result.err) {
				// Validation failures are never retried.
				setState(Disconnected)
				continue
			}
			if c.backoff.MaxAttempts > 0 && attempt >= c.backoff.MaxAttempts {
				c.log.Error("reconnect attempts exhausted", "attempts", attempt)
				setState(Disconnected)
				continue
			}
			retryC = time.After(c.backoff.NextDelay(attempt))

		case <-retryC:
			retryC = nil
			if c.State() == Connecting {
				startAttempt()
			}

		case err, ok := <-sessionErrs:
			if !ok {
				sessionErrs = nil
				continue
			}
			if c.State() != Connected {
				continue
			}
			// Abnormal session loss takes the same path as a failed
			// connect: back to connecting with backoff.
			c.log.Warn("session lost, reconnecting", "error", err)
			disconnect()
			setState(Connecting)
			attempt = 0
			startAttempt()
		}
	}
}
