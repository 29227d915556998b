package journal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/errors"
)

const (
	eventStreamName  = "CONNECTIVITY_EVENTS"
	eventSubjectBase = "connectivity.events"
	snapshotBucket   = "connectivity_snapshots"
	indexBucket      = "connectivity_index"
	replayFetchBatch = 256
)

// snapshotRecord is the stored form of a connection state snapshot.
type snapshotRecord struct {
	Connection connection.Connection `json:"connection"`
	Lifecycle  connection.Lifecycle  `json:"lifecycle"`
	Seq        uint64                `json:"seq"`
}

// JetStream persists connectivity events on a JetStream stream (one subject
// per connection) and snapshots in a KV bucket.
type JetStream struct {
	js        jetstream.JetStream
	stream    jetstream.Stream
	snapshots jetstream.KeyValue
	index     jetstream.KeyValue
}

// NewJetStream creates the stream and buckets if they do not exist yet.
func NewJetStream(ctx context.Context, js jetstream.JetStream) (*JetStream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        eventStreamName,
		Description: "Append-only connectivity event log, one subject per connection",
		Subjects:    []string{eventSubjectBase + ".>"},
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "NewJetStream", "create event stream")
	}

	snapshots, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      snapshotBucket,
		Description: "Latest connection state snapshot per connection",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "NewJetStream", "create snapshot bucket")
	}

	index, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      indexBucket,
		Description: "Index of known connection ids",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "NewJetStream", "create index bucket")
	}

	return &JetStream{js: js, stream: stream, snapshots: snapshots, index: index}, nil
}

// subjectToken sanitizes a connection id for use as a NATS subject token and
// KV key.
var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", ":", "_")

func eventSubject(connectionID string) string {
	return eventSubjectBase + "." + subjectToken.Replace(connectionID)
}

// Append implements Journal. The supervisor is the sole writer per
// connection id, so reading the last sequence before publishing is race-free.
func (j *JetStream) Append(ctx context.Context, connectionID string, event connection.Event) (connection.Event, error) {
	lastSeq, err := j.lastSeq(ctx, connectionID)
	if err != nil {
		return connection.Event{}, err
	}
	event.Seq = lastSeq + 1

	data, err := json.Marshal(event)
	if err != nil {
		return connection.Event{}, errors.WrapFatal(err, "JetStream", "Append", "marshal event")
	}
	if _, err := j.js.Publish(ctx, eventSubject(connectionID), data); err != nil {
		return connection.Event{}, errors.WrapTransient(err, "JetStream", "Append", "publish event")
	}

	key := subjectToken.Replace(connectionID)
	if _, err := j.index.Put(ctx, key, []byte(connectionID)); err != nil {
		return connection.Event{}, errors.WrapTransient(err, "JetStream", "Append", "update index")
	}
	return event, nil
}

func (j *JetStream) lastSeq(ctx context.Context, connectionID string) (uint64, error) {
	msg, err := j.stream.GetLastMsgForSubject(ctx, eventSubject(connectionID))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrMsgNotFound) {
			// No retained events; the snapshot carries the last sequence.
			state, found, loadErr := j.LoadLatestSnapshot(ctx, connectionID)
			if loadErr != nil {
				return 0, loadErr
			}
			if found {
				return state.Seq, nil
			}
			return 0, nil
		}
		return 0, errors.WrapTransient(err, "JetStream", "lastSeq", "get last message")
	}

	var event connection.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return 0, errors.WrapFatal(err, "JetStream", "lastSeq", "unmarshal event")
	}
	return event.Seq, nil
}

// Replay implements Journal.
func (j *JetStream) Replay(ctx context.Context, connectionID string, fromSeq uint64) ([]connection.Event, error) {
	consumer, err := j.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{eventSubject(connectionID)},
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "Replay", "create ordered consumer")
	}

	var events []connection.Event
	for {
		batch, err := consumer.FetchNoWait(replayFetchBatch)
		if err != nil {
			return nil, errors.WrapTransient(err, "JetStream", "Replay", "fetch events")
		}

		count := 0
		for msg := range batch.Messages() {
			count++
			var event connection.Event
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				return nil, errors.WrapFatal(err, "JetStream", "Replay", "unmarshal event")
			}
			if event.Seq > fromSeq {
				events = append(events, event)
			}
		}
		if err := batch.Error(); err != nil {
			return nil, errors.WrapTransient(err, "JetStream", "Replay", "consume batch")
		}
		if count == 0 {
			return events, nil
		}
	}
}

// SaveSnapshot implements Journal.
func (j *JetStream) SaveSnapshot(ctx context.Context, connectionID string, state connection.State) error {
	record := snapshotRecord{
		Connection: state.Connection,
		Lifecycle:  state.Lifecycle,
		Seq:        state.Seq,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WrapFatal(err, "JetStream", "SaveSnapshot", "marshal snapshot")
	}
	if _, err := j.snapshots.Put(ctx, subjectToken.Replace(connectionID), data); err != nil {
		return errors.WrapTransient(err, "JetStream", "SaveSnapshot", "put snapshot")
	}
	return nil
}

// LoadLatestSnapshot implements Journal.
func (j *JetStream) LoadLatestSnapshot(ctx context.Context, connectionID string) (connection.State, bool, error) {
	entry, err := j.snapshots.Get(ctx, subjectToken.Replace(connectionID))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return connection.State{}, false, nil
		}
		return connection.State{}, false, errors.WrapTransient(err, "JetStream", "LoadLatestSnapshot", "get snapshot")
	}

	var record snapshotRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return connection.State{}, false, errors.WrapFatal(err, "JetStream", "LoadLatestSnapshot", "unmarshal snapshot")
	}

	state := connection.State{
		Connection: record.Connection,
		Lifecycle:  record.Lifecycle,
		Seq:        record.Seq,
	}
	state.Connection.Lifecycle = record.Lifecycle
	return state, true, nil
}

// ConnectionIDs implements Journal using the index bucket.
func (j *JetStream) ConnectionIDs(ctx context.Context) ([]string, error) {
	lister, err := j.index.ListKeys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "ConnectionIDs", "list index keys")
	}

	var ids []string
	for key := range lister.Keys() {
		entry, err := j.index.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "JetStream", "ConnectionIDs", "read index entry")
		}
		ids = append(ids, string(entry.Value()))
	}
	return ids, nil
}

// Cleanup implements Journal: purges the connection's event subject. The
// latest snapshot fully determines state, so purged events are redundant.
func (j *JetStream) Cleanup(ctx context.Context, connectionID string) error {
	_, found, err := j.LoadLatestSnapshot(ctx, connectionID)
	if err != nil {
		return err
	}
	if !found {
		// Nothing to clean without a covering snapshot.
		return nil
	}
	if err := j.stream.Purge(ctx, jetstream.WithPurgeSubject(eventSubject(connectionID))); err != nil {
		return errors.WrapTransient(err, "JetStream", "Cleanup", "purge events")
	}
	return nil
}
