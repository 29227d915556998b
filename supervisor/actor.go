package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/journal"
	"github.com/eclipse-ditto/ditto-sub022/logging"
	"github.com/eclipse-ditto/ditto-sub022/mapping"
	"github.com/eclipse-ditto/ditto-sub022/metric"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

type request struct {
	cmd   any
	reply chan result
}

type result struct {
	value any
	err   error
}

type (
	createCmd struct{ conn connection.Connection }
	modifyCmd struct{ conn connection.Connection }
	openCmd   struct{}
	closeCmd  struct{}
	deleteCmd struct{}

	retrieveCmd     struct{}
	statusCmd       struct{}
	metricsCmd      struct{}
	resetMetricsCmd struct{}
	logsCmd         struct{}
	enableLogsCmd   struct{ duration time.Duration }
	resetLogsCmd    struct{}
	cleanupCmd      struct{}

	stopCmd struct{}
)

// actor is the persistent connection actor. All state below the mailbox is
// owned by the run goroutine; the embedded pipeline pointer is the only value
// read concurrently (by inbound and outbound handlers) and is guarded by its
// own accessor.
type actor struct {
	id      string
	sup     *Supervisor
	log     *slog.Logger
	mailbox chan request
	stopped chan struct{}

	state         connection.State
	counters      *metric.Counters
	clog          *logging.ConnectionLogger
	sinceSnapshot int

	// pl is read by the inbound and outbound handler goroutines while the
	// run goroutine swaps it on open/close.
	pl           atomic.Pointer[pipeline]
	clientCancel context.CancelFunc
}

func newActor(id string, sup *Supervisor) *actor {
	return &actor{
		id:       id,
		sup:      sup,
		log:      sup.log.With("connection_id", id),
		mailbox:  make(chan request, 16),
		stopped:  make(chan struct{}),
		counters: metric.NewCounters(id, sup.metrics),
		clog:     logging.New(id, sup.log),
	}
}

// stop closes the live session, if any, and terminates the actor.
func (a *actor) stop(ctx context.Context) {
	req := request{cmd: stopCmd{}, reply: make(chan result, 1)}
	select {
	case a.mailbox <- req:
	case <-a.stopped:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-req.reply:
	case <-a.stopped:
	case <-ctx.Done():
	}
}

// run recovers persisted state and serves commands until the connection is
// deleted, the configuration turns out not to exist, or a stop is requested.
// A tombstoned connection answers nothing beyond the commands already queued;
// the actor passivates and the id resolves to a fresh instance next time.
func (a *actor) run() {
	defer func() {
		a.sup.removeActor(a)
		close(a.stopped)
	}()

	recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	state, err := journal.Recover(recoverCtx, a.sup.journal, a.id)
	cancel()
	if err != nil {
		a.log.Error("state recovery failed", "error", err)
		a.answerAll(gwerrors.WrapTransient(err, "actor", "run", "recover state"))
		return
	}
	a.state = state

	if a.state.IsDeleted() {
		a.answerAll(gwerrors.NewConnectionNotAccessible(a.id))
		return
	}
	if a.state.Exists() && a.state.Connection.Status == connection.StatusOpen {
		// Recovered open connection: reconnect without waiting for the
		// session to come up.
		openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.openClient(openCtx, false); err != nil {
			a.log.Warn("reconnect after recovery failed", "error", err)
		}
		cancelOpen()
	}

	for req := range a.mailbox {
		if passivate := a.handle(req); passivate {
			a.answerAll(gwerrors.NewConnectionNotAccessible(a.id))
			return
		}
	}
}

// answerAll drains queued commands with the given error before passivation.
func (a *actor) answerAll(err error) {
	for {
		select {
		case req := <-a.mailbox:
			req.reply <- result{err: err}
		default:
			return
		}
	}
}

// handle processes one command on the run goroutine. It returns true when
// the actor should passivate afterwards.
func (a *actor) handle(req request) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd := req.cmd.(type) {
	case createCmd:
		conn, err := a.create(ctx, cmd.conn)
		req.reply <- result{value: conn, err: err}
		// Failed create on a virgin id leaves nothing to supervise.
		return err != nil && !a.state.Exists()

	case modifyCmd:
		conn, err := a.modify(ctx, cmd.conn)
		req.reply <- result{value: conn, err: err}
		return !a.state.Exists()

	case openCmd:
		req.reply <- result{err: a.open(ctx)}
		return false

	case closeCmd:
		req.reply <- result{err: a.close(ctx)}
		return false

	case deleteCmd:
		err := a.delete(ctx)
		req.reply <- result{err: err}
		return err == nil

	case retrieveCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		req.reply <- result{value: a.state.Connection.Clone()}
		return false

	case statusCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		req.reply <- result{value: StatusReport{
			ConnectionID:  a.id,
			DesiredStatus: a.state.Connection.Status,
			LiveStatus:    a.liveStatus(),
		}}
		return false

	case metricsCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		req.reply <- result{value: a.counters.Snapshot()}
		return false

	case resetMetricsCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		a.counters.Reset()
		req.reply <- result{}
		return false

	case logsCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		req.reply <- result{value: LogsReport{
			ConnectionID: a.id,
			EnabledUntil: a.clog.EnabledUntil(),
			Entries:      a.clog.Entries(),
		}}
		return false

	case enableLogsCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		a.clog.Enable(cmd.duration)
		req.reply <- result{}
		return false

	case resetLogsCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		a.clog.Reset()
		req.reply <- result{}
		return false

	case cleanupCmd:
		if !a.state.Exists() {
			req.reply <- result{err: gwerrors.NewConnectionNotAccessible(a.id)}
			return true
		}
		req.reply <- result{err: a.cleanup(ctx)}
		return false

	case stopCmd:
		a.stopClient(ctx)
		req.reply <- result{}
		return true

	default:
		req.reply <- result{err: gwerrors.NewConnectionUnavailable(a.id)}
		return false
	}
}

func (a *actor) liveStatus() connection.LiveStatus {
	pl := a.pl.Load()
	if pl == nil {
		return connection.LiveStatusDisconnected
	}
	return pl.client.State().LiveStatus()
}

func (a *actor) create(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	if a.state.Exists() {
		return connection.Connection{}, gwerrors.NewConnectionConflict(a.id)
	}
	if conn.ID != a.id {
		return connection.Connection{}, gwerrors.NewConfigurationInvalid(
			"The connection id in the configuration does not match the addressed connection.")
	}
	if err := a.sup.validator.Validate(conn); err != nil {
		return connection.Connection{}, err
	}

	snapshot := conn.Clone()
	if err := a.persist(ctx, connection.Event{Type: connection.EventCreated, Connection: &snapshot}); err != nil {
		return connection.Connection{}, err
	}

	created := a.state.Connection.Clone()
	if created.Status == connection.StatusOpen {
		// Fire and forget: a failing broker must not fail the create.
		if err := a.openClient(ctx, false); err != nil {
			a.log.Warn("connect after create failed", "error", err)
		}
	}
	return created, nil
}

func (a *actor) modify(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	if !a.state.Exists() {
		return connection.Connection{}, gwerrors.NewConnectionNotAccessible(a.id)
	}
	if conn.ID != a.id {
		return connection.Connection{}, gwerrors.NewConfigurationInvalid(
			"The connection id in the configuration does not match the addressed connection.")
	}
	if err := a.sup.validator.Validate(conn); err != nil {
		return connection.Connection{}, err
	}

	// A live session keeps the old configuration until it is fully torn
	// down; modify never reconfigures a running session in place.
	wasLive := a.pl.Load() != nil
	if wasLive {
		a.stopClient(ctx)
	}

	snapshot := conn.Clone()
	if err := a.persist(ctx, connection.Event{Type: connection.EventModified, Connection: &snapshot}); err != nil {
		return connection.Connection{}, err
	}

	modified := a.state.Connection.Clone()
	if modified.Status == connection.StatusOpen {
		if wasLive {
			// Reply only after the reopen resolved.
			if err := a.openClient(ctx, true); err != nil {
				return connection.Connection{}, err
			}
		} else if err := a.openClient(ctx, false); err != nil {
			a.log.Warn("connect after modify failed", "error", err)
		}
	}
	return modified, nil
}

func (a *actor) open(ctx context.Context) error {
	if !a.state.Exists() {
		return gwerrors.NewConnectionNotAccessible(a.id)
	}
	// Connect first: a failed open must not move the persisted desired
	// status, otherwise recovery would retry a connection the caller never
	// saw succeed.
	if err := a.openClient(ctx, true); err != nil {
		return err
	}
	if a.state.Connection.Status == connection.StatusOpen {
		return nil
	}
	return a.persist(ctx, connection.Event{Type: connection.EventOpened})
}

func (a *actor) close(ctx context.Context) error {
	if !a.state.Exists() {
		return gwerrors.NewConnectionNotAccessible(a.id)
	}
	a.stopClient(ctx)
	if a.state.Connection.Status == connection.StatusClosed {
		return nil
	}
	return a.persist(ctx, connection.Event{Type: connection.EventClosed})
}

func (a *actor) delete(ctx context.Context) error {
	if !a.state.Exists() {
		return gwerrors.NewConnectionNotAccessible(a.id)
	}
	a.stopClient(ctx)
	return a.persist(ctx, connection.Event{Type: connection.EventDeleted})
}

func (a *actor) cleanup(ctx context.Context) error {
	if err := a.sup.journal.SaveSnapshot(ctx, a.id, a.state); err != nil {
		return gwerrors.WrapTransient(err, "actor", "cleanup", "save snapshot")
	}
	if err := a.sup.journal.Cleanup(ctx, a.id); err != nil {
		return gwerrors.WrapTransient(err, "actor", "cleanup", "drop covered events")
	}
	a.sinceSnapshot = 0
	return nil
}

// persist appends the event, folds it into the in-memory state and saves a
// snapshot once enough events accumulated since the last one.
func (a *actor) persist(ctx context.Context, event connection.Event) error {
	event.Timestamp = time.Now().UTC()
	stored, err := a.sup.journal.Append(ctx, a.id, event)
	if err != nil {
		return gwerrors.WrapTransient(err, "actor", "persist", "append event")
	}
	if err := a.state.Apply(stored); err != nil {
		return gwerrors.WrapFatal(err, "actor", "persist", "apply event")
	}
	a.sinceSnapshot++
	if a.sinceSnapshot >= a.sup.snapshotEvery {
		// Snapshot failures do not fail the command; replay still recovers.
		if err := a.sup.journal.SaveSnapshot(ctx, a.id, a.state); err != nil {
			a.log.Warn("periodic snapshot failed", "error", err)
		} else {
			a.sinceSnapshot = 0
		}
	}
	return nil
}

// openClient builds the session, starts the client state machine and
// subscribes to the signal streams the targets request. With awaitConnect
// the call blocks until the first connect attempt resolves; otherwise
// transient failures keep retrying in the background.
func (a *actor) openClient(ctx context.Context, awaitConnect bool) error {
	if a.pl.Load() == nil {
		conn := a.state.Connection.Clone()
		factory, ok := a.sup.factories[conn.Type]
		if !ok {
			return gwerrors.NewConfigurationInvalid(
				"No client available for connection type '" + string(conn.Type) + "'.")
		}
		processor, err := mapping.NewProcessor(a.sup.mappers, conn)
		if err != nil {
			return err
		}

		pl := &pipeline{
			conn:      conn,
			processor: processor,
			counters:  a.counters,
			clog:      a.clog,
			forwarder: a.sup.forwarder,
			log:       a.log,
		}
		session, err := factory(conn, pl.handleInbound)
		if err != nil {
			return err
		}
		pl.client = client.New(conn, session, a.log)

		runCtx, cancel := context.WithCancel(context.Background())
		go pl.client.Run(runCtx)
		a.pl.Store(pl)
		a.clientCancel = cancel

		if a.sup.registry != nil {
			if err := a.sup.registry.Subscribe(a.id, conn.SubscribedTopicKinds(), a.handleOutbound); err != nil {
				a.stopClient(ctx)
				return gwerrors.WrapTransient(err, "actor", "openClient", "subscribe signal streams")
			}
		}
	}

	err := a.pl.Load().client.Open(ctx)
	if err == nil {
		return nil
	}
	if awaitConnect {
		if gwerrors.IsFatal(err) {
			return gwerrors.AsCoded(err)
		}
		return gwerrors.NewConnectionFailed(a.id, err.Error())
	}
	return err
}

// stopClient tears the live session down and drops the signal stream
// subscriptions. Safe to call when no session is live.
func (a *actor) stopClient(ctx context.Context) {
	pl := a.pl.Load()
	if pl == nil {
		return
	}
	if a.sup.registry != nil {
		if err := a.sup.registry.RemoveSubscriber(a.id); err != nil {
			a.log.Warn("unsubscribe failed", "error", err)
		}
	}
	if err := pl.client.Close(ctx); err != nil {
		a.log.Warn("session close failed", "error", err)
	}
	a.clientCancel()
	a.pl.Store(nil)
	a.clientCancel = nil
}

// handleOutbound is registered with the pub/sub registry; it runs on the
// registry's delivery goroutine, not the actor loop.
func (a *actor) handleOutbound(ctx context.Context, s signal.Signal) {
	if pl := a.pl.Load(); pl != nil {
		pl.handleOutbound(ctx, s)
	}
}
