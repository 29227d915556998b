package client

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/retry"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// fakeSession scripts connect outcomes and records lifecycle calls.
type fakeSession struct {
	mu           sync.Mutex
	connectErrs  []error
	connects     int
	disconnects  int
	published    []external.Message
	blockOnCtx   bool
	blockForever bool
	errs         chan error
}

func newFakeSession(connectErrs ...error) *fakeSession {
	return &fakeSession{connectErrs: connectErrs, errs: make(chan error, 1)}
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	i := s.connects
	s.connects++
	block := s.blockOnCtx
	forever := s.blockForever
	s.mu.Unlock()
	if forever {
		select {}
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if i < len(s.connectErrs) {
		return s.connectErrs[i]
	}
	return nil
}

func (s *fakeSession) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *fakeSession) Publish(_ context.Context, _ connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, msg)
	return nil, nil
}

func (s *fakeSession) Errors() <-chan error { return s.errs }

func (s *fakeSession) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *fakeSession) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

func newTestClient(t *testing.T, session Session) (*Client, context.CancelFunc) {
	t.Helper()
	c := New(connection.Connection{ID: "conn-1", Type: connection.TypeAMQP091}, session, nil)
	c.backoff = retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c, cancel
}

func TestClient_OpenConnects(t *testing.T) {
	session := newFakeSession()
	c, _ := newTestClient(t, session)

	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, connection.LiveStatusConnected, c.State().LiveStatus())
	assert.Equal(t, 1, session.connectCount())

	// A second open is a no-op.
	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, 1, session.connectCount())
}

func TestClient_TransientFailureRetriesInBackground(t *testing.T) {
	session := newFakeSession(gwerrors.WrapTransient(gwerrors.ErrConnectionTimeout, "fake", "Connect", "dial"))
	c, _ := newTestClient(t, session)

	// The opener learns about the first failure; the retry then succeeds.
	err := c.Open(context.Background())
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		return c.State() == Connected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, session.connectCount())
}

func TestClient_FatalFailureNotRetried(t *testing.T) {
	session := newFakeSession(gwerrors.NewHostBlocked("bad.example.com"))
	c, _ := newTestClient(t, session)

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.True(t, gwerrors.IsFatal(err))

	// No retry happens after a validation failure.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, 1, session.connectCount())
}

func TestClient_ConnectAttemptTimesOutAndRetries(t *testing.T) {
	session := newFakeSession()
	session.blockForever = true
	c := New(connection.Connection{ID: "conn-1", Type: connection.TypeAMQP091}, session, nil)
	c.backoff = retry.Config{
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2,
		ConnectTimeout: 20 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	// The opener is answered when the first attempt hits its deadline, even
	// though the session never returns from Connect.
	err := c.Open(context.Background())
	require.Error(t, err)
	assert.True(t, gwerrors.IsTransient(err))

	// Expired attempts feed the backoff schedule instead of wedging the
	// state machine.
	assert.Eventually(t, func() bool {
		return session.connectCount() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Connecting, c.State())
}

func TestClient_CloseCancelsPendingConnect(t *testing.T) {
	session := newFakeSession()
	session.blockOnCtx = true
	c, _ := newTestClient(t, session)

	openErr := make(chan error, 1)
	go func() { openErr <- c.Open(context.Background()) }()

	assert.Eventually(t, func() bool {
		return c.State() == Connecting
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, Disconnected, c.State())
	assert.Error(t, <-openErr)
}

func TestClient_CloseWhileConnected(t *testing.T) {
	session := newFakeSession()
	c, _ := newTestClient(t, session)

	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, 1, session.disconnectCount())

	// Close on a disconnected client succeeds without touching the session.
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, session.disconnectCount())
}

func TestClient_SessionLossTriggersReconnect(t *testing.T) {
	session := newFakeSession()
	c, _ := newTestClient(t, session)

	require.NoError(t, c.Open(context.Background()))
	session.errs <- gwerrors.ErrConnectionLost

	assert.Eventually(t, func() bool {
		return c.State() == Connected && session.connectCount() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, session.disconnectCount())
}

func TestClient_PublishRequiresConnected(t *testing.T) {
	session := newFakeSession()
	c, _ := newTestClient(t, session)

	_, err := c.Publish(context.Background(), connection.Target{Address: "events"}, external.NewMessage(nil))
	require.Error(t, err)
	assert.True(t, gwerrors.IsTransient(err))

	require.NoError(t, c.Open(context.Background()))
	_, err = c.Publish(context.Background(), connection.Target{Address: "events"}, external.NewMessage(nil))
	require.NoError(t, err)
}

func TestTest_ConnectAndDisconnect(t *testing.T) {
	session := newFakeSession()
	require.NoError(t, Test(context.Background(), session, time.Second))
	assert.Equal(t, 1, session.connectCount())
	assert.Equal(t, 1, session.disconnectCount())
}

func TestTest_ReportsConnectFailure(t *testing.T) {
	session := newFakeSession(gwerrors.ErrConnectionTimeout)
	err := Test(context.Background(), session, time.Second)
	require.Error(t, err)
	assert.Equal(t, 0, session.disconnectCount())
}

// attrRecorder collects the attribute keys added to a logger via With.
type attrRecorder struct {
	mu   *sync.Mutex
	keys *[]string
}

func (h attrRecorder) Enabled(context.Context, slog.Level) bool  { return false }
func (h attrRecorder) Handle(context.Context, slog.Record) error { return nil }
func (h attrRecorder) WithGroup(string) slog.Handler             { return h }

func (h attrRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range attrs {
		*h.keys = append(*h.keys, a.Key)
	}
	return h
}

func TestNew_LoggerKeepsHandedAttributes(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	logger := slog.New(attrRecorder{mu: &mu, keys: &keys}).With("connection_id", "conn-1")

	New(connection.Connection{ID: "conn-1", Type: connection.TypeAMQP091}, newFakeSession(), logger)

	mu.Lock()
	defer mu.Unlock()
	count := 0
	for _, k := range keys {
		if k == "connection_id" {
			count++
		}
	}
	assert.Equal(t, 1, count, "the handed connection id must not be attached twice")
	assert.Contains(t, keys, "connection_type")
}
