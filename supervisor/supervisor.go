// Package supervisor owns the durable side of every connection: one
// persistent actor per connection id that folds commands into journal events,
// recovers its state by replay after a restart, and starts or stops the
// client session driving the actual broker wire. The supervisor map
// guarantees at most one live actor per connection id in the process.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/journal"
	"github.com/eclipse-ditto/ditto-sub022/logging"
	"github.com/eclipse-ditto/ditto-sub022/mapping"
	"github.com/eclipse-ditto/ditto-sub022/metric"
	"github.com/eclipse-ditto/ditto-sub022/pubsub"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Forwarder receives inbound signals mapped from external messages plus the
// acknowledgements issued for outbound deliveries, and hands them to the
// rest of the platform.
type Forwarder interface {
	Publish(ctx context.Context, s signal.Signal) error
}

// DefaultTestTimeout bounds a TestConnection probe.
const DefaultTestTimeout = 30 * time.Second

// DefaultSnapshotEvery is the journal event count after which an actor saves
// a snapshot, bounding replay length on recovery.
const DefaultSnapshotEvery = 10

// StatusReport answers RetrieveConnectionStatus: the persisted desired
// status next to the observed live status of the client session.
type StatusReport struct {
	ConnectionID  string                `json:"connectionId"`
	DesiredStatus connection.Status     `json:"connectionStatus"`
	LiveStatus    connection.LiveStatus `json:"liveStatus"`
}

// LogsReport answers RetrieveConnectionLogs.
type LogsReport struct {
	ConnectionID string          `json:"connectionId"`
	EnabledUntil time.Time       `json:"enabledUntil,omitzero"`
	Entries      []logging.Entry `json:"entries"`
}

// Config carries the collaborators a Supervisor needs.
type Config struct {
	Journal   journal.Journal
	Registry  pubsub.Registry
	Forwarder Forwarder
	Factories map[connection.Type]client.Factory
	Validator *connection.Validator
	Mappers   *mapping.Registry
	Metrics   *metric.Metrics
	Logger    *slog.Logger
	// TestTimeout bounds TestConnection probes; zero means
	// DefaultTestTimeout.
	TestTimeout time.Duration
	// SnapshotEvery is the number of persisted events after which an actor
	// saves a snapshot; zero means DefaultSnapshotEvery.
	SnapshotEvery int
}

// Supervisor manages the persistent connection actors.
type Supervisor struct {
	journal       journal.Journal
	registry      pubsub.Registry
	forwarder     Forwarder
	factories     map[connection.Type]client.Factory
	validator     *connection.Validator
	mappers       *mapping.Registry
	metrics       *metric.Metrics
	log           *slog.Logger
	testTimeout   time.Duration
	snapshotEvery int

	mu     sync.Mutex
	actors map[string]*actor
}

// New builds a supervisor. The validator's known mapping engines are derived
// from the mapper registry when unset.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mappers := cfg.Mappers
	if mappers == nil {
		mappers = mapping.NewRegistry()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = &connection.Validator{}
	}
	if validator.KnownMappingEngines == nil {
		engines := map[string]struct{}{}
		for _, e := range mappers.Engines() {
			engines[e] = struct{}{}
		}
		validator.KnownMappingEngines = engines
	}
	testTimeout := cfg.TestTimeout
	if testTimeout <= 0 {
		testTimeout = DefaultTestTimeout
	}
	snapshotEvery := cfg.SnapshotEvery
	if snapshotEvery <= 0 {
		snapshotEvery = DefaultSnapshotEvery
	}
	return &Supervisor{
		journal:       cfg.Journal,
		registry:      cfg.Registry,
		forwarder:     cfg.Forwarder,
		factories:     cfg.Factories,
		validator:     validator,
		mappers:       mappers,
		metrics:       cfg.Metrics,
		log:           logger,
		testTimeout:   testTimeout,
		snapshotEvery: snapshotEvery,
	}
}

// CreateConnection validates and persists a new connection. When the desired
// status is open the client session is started fire-and-forget; a connect
// failure does not fail the create.
func (s *Supervisor) CreateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	v, err := s.ask(ctx, conn.ID, createCmd{conn: conn})
	if err != nil {
		return connection.Connection{}, err
	}
	return v.(connection.Connection), nil
}

// ModifyConnection validates and persists a configuration change. An open
// connection is closed, reconfigured and reopened; the reply waits for the
// reopen to resolve.
func (s *Supervisor) ModifyConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	v, err := s.ask(ctx, conn.ID, modifyCmd{conn: conn})
	if err != nil {
		return connection.Connection{}, err
	}
	return v.(connection.Connection), nil
}

// OpenConnection connects the client session and persists the open status.
// On failure the persisted desired status stays untouched so the open can be
// retried.
func (s *Supervisor) OpenConnection(ctx context.Context, connectionID string) error {
	_, err := s.ask(ctx, connectionID, openCmd{})
	return err
}

// CloseConnection disconnects the client session and persists the closed
// status.
func (s *Supervisor) CloseConnection(ctx context.Context, connectionID string) error {
	_, err := s.ask(ctx, connectionID, closeCmd{})
	return err
}

// DeleteConnection stops the client session and tombstones the connection.
// The actor passivates after replying.
func (s *Supervisor) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := s.ask(ctx, connectionID, deleteCmd{})
	return err
}

// TestConnection probes the given configuration with a transient session.
// Nothing is persisted and no live actor state is touched.
func (s *Supervisor) TestConnection(ctx context.Context, conn connection.Connection) error {
	if err := s.validator.Validate(conn); err != nil {
		return err
	}
	factory, ok := s.factories[conn.Type]
	if !ok {
		return gwerrors.NewConfigurationInvalid(
			"No client available for connection type '" + string(conn.Type) + "'.")
	}
	session, err := factory(conn, func(context.Context, external.Message) {})
	if err != nil {
		return err
	}
	return client.Test(ctx, session, s.testTimeout)
}

// RetrieveConnection returns the persisted connection configuration.
func (s *Supervisor) RetrieveConnection(ctx context.Context, connectionID string) (connection.Connection, error) {
	v, err := s.ask(ctx, connectionID, retrieveCmd{})
	if err != nil {
		return connection.Connection{}, err
	}
	return v.(connection.Connection), nil
}

// RetrieveConnectionStatus returns desired and live status. Closed
// connections answer without a client session ever being started.
func (s *Supervisor) RetrieveConnectionStatus(ctx context.Context, connectionID string) (StatusReport, error) {
	v, err := s.ask(ctx, connectionID, statusCmd{})
	if err != nil {
		return StatusReport{}, err
	}
	return v.(StatusReport), nil
}

// RetrieveConnectionMetrics returns the per-source and per-target counters.
func (s *Supervisor) RetrieveConnectionMetrics(ctx context.Context, connectionID string) (metric.ConnectionMetrics, error) {
	v, err := s.ask(ctx, connectionID, metricsCmd{})
	if err != nil {
		return metric.ConnectionMetrics{}, err
	}
	return v.(metric.ConnectionMetrics), nil
}

// ResetConnectionMetrics zeroes the connection's counters.
func (s *Supervisor) ResetConnectionMetrics(ctx context.Context, connectionID string) error {
	_, err := s.ask(ctx, connectionID, resetMetricsCmd{})
	return err
}

// RetrieveConnectionLogs returns the collected log entries and the
// enablement deadline.
func (s *Supervisor) RetrieveConnectionLogs(ctx context.Context, connectionID string) (LogsReport, error) {
	v, err := s.ask(ctx, connectionID, logsCmd{})
	if err != nil {
		return LogsReport{}, err
	}
	return v.(LogsReport), nil
}

// EnableConnectionLogs starts collecting log entries for the given duration.
func (s *Supervisor) EnableConnectionLogs(ctx context.Context, connectionID string, d time.Duration) error {
	_, err := s.ask(ctx, connectionID, enableLogsCmd{duration: d})
	return err
}

// ResetConnectionLogs discards collected entries and disables collection.
func (s *Supervisor) ResetConnectionLogs(ctx context.Context, connectionID string) error {
	_, err := s.ask(ctx, connectionID, resetLogsCmd{})
	return err
}

// CleanupPersistence snapshots the current state and drops the journal
// events the snapshot covers.
func (s *Supervisor) CleanupPersistence(ctx context.Context, connectionID string) error {
	_, err := s.ask(ctx, connectionID, cleanupCmd{})
	return err
}

// Restore spawns actors for every persisted connection id. Actors recover
// their state; open connections reconnect, tombstones passivate again
// immediately.
func (s *Supervisor) Restore(ctx context.Context) error {
	ids, err := s.journal.ConnectionIDs(ctx)
	if err != nil {
		return gwerrors.Wrap(err, "supervisor", "Restore", "list persisted connections")
	}
	for _, id := range ids {
		s.actorFor(id)
	}
	return nil
}

// Shutdown closes every live client session and stops all actors.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	for _, a := range actors {
		a.stop(ctx)
	}
}

// ActiveActors returns the number of live actors. Used by health reporting.
func (s *Supervisor) ActiveActors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

func (s *Supervisor) actorFor(id string) *actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors == nil {
		s.actors = map[string]*actor{}
	}
	if a, ok := s.actors[id]; ok {
		return a
	}
	a := newActor(id, s)
	s.actors[id] = a
	go a.run()
	return a
}

func (s *Supervisor) removeActor(a *actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors[a.id] == a {
		delete(s.actors, a.id)
	}
}

// ask routes a command to the connection's actor and awaits the typed reply.
// A passivating actor that never accepted the command is replaced and the
// command retried against the fresh instance.
func (s *Supervisor) ask(ctx context.Context, connectionID string, cmd any) (any, error) {
	if connectionID == "" {
		return nil, gwerrors.NewConfigurationInvalid("The connection id must not be empty.")
	}
	req := request{cmd: cmd, reply: make(chan result, 1)}
	for {
		a := s.actorFor(connectionID)
		select {
		case a.mailbox <- req:
		case <-a.stopped:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		select {
		case r := <-req.reply:
			return r.value, r.err
		case <-a.stopped:
			// The actor replies before it stops; an empty reply channel
			// means the command was never processed.
			select {
			case r := <-req.reply:
				return r.value, r.err
			default:
				continue
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
