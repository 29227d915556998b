// Package connectivity is the connectivity gateway of a digital-twin
// platform: it manages connections to external message brokers and HTTP
// endpoints, translating between external wire messages and the platform's
// protocol signals in both directions.
//
// # Architecture
//
// The gateway is organised around one supervised actor per connection:
//
//	┌─────────────────────────────────────┐
//	│          Supervisor                 │  command API, actor registry,
//	│  (create, open, close, delete, …)   │  at-most-one actor per id
//	└─────────────────────────────────────┘
//	           ↓ per connection
//	┌─────────────────────────────────────┐
//	│         Connection actor            │  event-sourced state,
//	│   (journal recovery, lifecycle)     │  client session lifecycle
//	└─────────────────────────────────────┘
//	           ↓ while open
//	┌─────────────────────────────────────┐
//	│         Signal pipeline             │  mapping, filtering,
//	│  (inbound ↑ / outbound ↓ per link)  │  enforcement, acknowledgements
//	└─────────────────────────────────────┘
//
// Package layout:
//
//   - connection: the connection model (sources, targets, topic kinds,
//     enforcement) and its event-sourced state machine
//   - supervisor: the command surface, per-connection actors and the
//     per-session signal pipeline
//   - journal: event journal and snapshot store, backed by NATS JetStream
//     with an in-memory implementation for tests
//   - client: the protocol-session state machine with backoff reconnect,
//     and one sub-package per protocol (amqp091, amqp10, mqtt3, mqtt5,
//     kafka, httppush)
//   - mapping: payload mapping engines translating wire messages to and
//     from protocol signals
//   - filter: target selection for outbound signals by topic kind,
//     namespace and RQL filter
//   - placeholder: template resolution for addresses, header mappings and
//     enforcement filters
//   - signal, external: the protocol signal model and the external wire
//     message model
//   - pubsub: topic-kind subscriptions and signal forwarding over NATS
//   - metric, logging: per-connection counters with Prometheus export and
//     the bounded per-connection log collector
//   - errors: classified errors and the coded error vocabulary shared with
//     API clients
//
// # Consistency model
//
// Connection state is event sourced. Every state change is an event
// appended to the journal before it is applied, so a restarted instance
// recovers each connection from its snapshot plus replayed events.
// Deleting a connection writes a tombstone event; a deleted connection
// stays deleted across restarts and its id cannot be reused.
//
// Desired status (open or closed) is persisted; live session status is
// not. An instance restart therefore reconnects every connection whose
// desired status is open, and a connection that fails to open keeps its
// persisted desired status unchanged.
package connectivity
