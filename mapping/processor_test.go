package mapping

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// duplicatingMapper emits N copies of its input in both directions.
type duplicatingMapper struct {
	n int
}

func (m *duplicatingMapper) Configure(def connection.MappingDefinition) error {
	m.n = 1
	if v, ok := def.Options["count"]; ok {
		if _, err := fmt.Sscanf(v, "%d", &m.n); err != nil {
			return err
		}
	}
	return nil
}

func (m *duplicatingMapper) MapExternal(msg external.Message) ([]signal.Adaptable, error) {
	var a signal.Adaptable
	if err := json.Unmarshal(msg.PayloadBytes(), &a); err != nil {
		return nil, err
	}
	out := make([]signal.Adaptable, m.n)
	for i := range out {
		out[i] = a
	}
	return out, nil
}

func (m *duplicatingMapper) MapSignal(a signal.Adaptable) ([]external.Message, error) {
	out := make([]external.Message, m.n)
	for i := range out {
		out[i] = external.NewMessage(nil).WithTextPayload("copy")
	}
	return out, nil
}

// failingMapper always errors.
type failingMapper struct{}

func (m *failingMapper) Configure(connection.MappingDefinition) error { return nil }
func (m *failingMapper) MapExternal(external.Message) ([]signal.Adaptable, error) {
	return nil, fmt.Errorf("boom")
}
func (m *failingMapper) MapSignal(signal.Adaptable) ([]external.Message, error) {
	return nil, fmt.Errorf("boom")
}

// panickyMapper panics on every call.
type panickyMapper struct{}

func (m *panickyMapper) Configure(connection.MappingDefinition) error { return nil }
func (m *panickyMapper) MapExternal(external.Message) ([]signal.Adaptable, error) {
	panic("mapper bug")
}
func (m *panickyMapper) MapSignal(signal.Adaptable) ([]external.Message, error) {
	panic("mapper bug")
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("duplicate", func() Mapper { return &duplicatingMapper{} })
	r.Register("failing", func() Mapper { return &failingMapper{} })
	r.Register("panicky", func() Mapper { return &panickyMapper{} })
	return r
}

func envelope(t *testing.T, topic string) signal.Adaptable {
	t.Helper()
	tp, err := signal.ParseTopicPath(topic)
	require.NoError(t, err)
	return signal.Adaptable{
		Topic:   tp,
		Headers: signal.Headers{"content-type": ContentTypeDitto},
		Path:    "/",
		Value:   json.RawMessage(`{"attributes":{"on":true}}`),
	}
}

func envelopeMessage(t *testing.T, topic string) external.Message {
	t.Helper()
	data, err := json.Marshal(envelope(t, topic))
	require.NoError(t, err)
	return external.NewMessage(map[string]string{"content-type": ContentTypeDitto}).
		WithTextPayload(string(data))
}

func newProcessor(t *testing.T, conn connection.Connection) *Processor {
	t.Helper()
	p, err := NewProcessor(testRegistry(), conn)
	require.NoError(t, err)
	return p
}

func TestProcessInbound_DefaultMapper(t *testing.T) {
	p := newProcessor(t, connection.Connection{})
	msg := envelopeMessage(t, "ns/thing-1/things/twin/events/modified")

	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeMapped, outcomes[0].Kind())
	assert.Equal(t, EngineDitto, outcomes[0].MapperID())
	assert.Equal(t, "ns/thing-1/things/twin/events/modified", outcomes[0].Value().Topic.String())
}

func TestProcessInbound_DuplicatingMapper(t *testing.T) {
	conn := connection.Connection{
		Mappings: map[string]connection.MappingDefinition{
			"triple": {Engine: "duplicate", Options: map[string]string{"count": "3"}},
		},
	}
	p := newProcessor(t, conn)
	msg := envelopeMessage(t, "ns/thing-1/things/twin/events/modified").
		WithPayloadMapping([]string{"triple"})

	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, OutcomeMapped, o.Kind())
		assert.Equal(t, "triple", o.MapperID())
		assert.Equal(t, "ns/thing-1/things/twin/events/modified", o.Value().Topic.String())
	}
}

func TestProcessInbound_EmptyPayloadDropped(t *testing.T) {
	p := newProcessor(t, connection.Connection{})
	msg := external.NewMessage(map[string]string{"content-type": ContentTypeDitto})

	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeDropped, outcomes[0].Kind())
}

func TestProcessInbound_EmptyNotificationDropped(t *testing.T) {
	p := newProcessor(t, connection.Connection{})
	msg := external.NewMessage(map[string]string{"content-type": ContentTypeEmptyNotification}).
		WithTextPayload("ignored").
		WithPayloadMapping([]string{"failing"})

	// The drop happens before any configured mapper runs.
	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeDropped, outcomes[0].Kind())
}

func TestProcessInbound_ErrorOutcome(t *testing.T) {
	conn := connection.Connection{
		Mappings: map[string]connection.MappingDefinition{
			"bad": {Engine: "failing"},
		},
	}
	p := newProcessor(t, conn)
	msg := envelopeMessage(t, "ns/thing-1/things/twin/events/modified").
		WithPayloadMapping([]string{"bad"}).
		WithTopicPath("ns/thing-1/things/twin/events/modified")

	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeError, outcomes[0].Kind())
	assert.Equal(t, "bad", outcomes[0].MapperID())
	assert.EqualError(t, outcomes[0].Err(), "boom")
	assert.Equal(t, "ns/thing-1/things/twin/events/modified", outcomes[0].TopicPath())
}

func TestProcessInbound_MapperPanicBecomesError(t *testing.T) {
	conn := connection.Connection{
		Mappings: map[string]connection.MappingDefinition{
			"crash": {Engine: "panicky"},
		},
	}
	p := newProcessor(t, conn)
	msg := envelopeMessage(t, "ns/thing-1/things/twin/events/modified").
		WithPayloadMapping([]string{"crash"})

	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeError, outcomes[0].Kind())
	assert.ErrorContains(t, outcomes[0].Err(), "mapper bug")
}

func TestProcessInbound_ContentTypeBlocklist(t *testing.T) {
	conn := connection.Connection{
		Mappings: map[string]connection.MappingDefinition{
			"picky": {Engine: "ditto", ContentTypeBlock: []string{ContentTypeDitto}},
		},
	}
	p := newProcessor(t, conn)
	msg := envelopeMessage(t, "ns/thing-1/things/twin/events/modified").
		WithPayloadMapping([]string{"picky"})

	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeDropped, outcomes[0].Kind())
}

func TestProcessInbound_ContentTypeAllowlist(t *testing.T) {
	conn := connection.Connection{
		Mappings: map[string]connection.MappingDefinition{
			"picky": {Engine: "ditto", ContentTypeAllow: []string{"text/plain"}},
		},
	}
	p := newProcessor(t, conn)
	msg := envelopeMessage(t, "ns/thing-1/things/twin/events/modified").
		WithPayloadMapping([]string{"picky"})

	outcomes := p.ProcessInbound(msg)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeDropped, outcomes[0].Kind())
}

func target(address string, mapping ...string) connection.Target {
	return connection.Target{
		Address:        address,
		PayloadMapping: mapping,
		Authorization:  connection.AuthorizationContext{"integration:solution"},
	}
}

func TestProcessOutbound_TargetGrouping(t *testing.T) {
	conn := connection.Connection{
		Mappings: map[string]connection.MappingDefinition{
			"triple": {Engine: "duplicate", Options: map[string]string{"count": "1"}},
		},
	}
	p := newProcessor(t, conn)

	// Three groups: default chain (two targets), ["triple"], and
	// ["triple","ditto"]. One outcome per mapper per group.
	out := OutboundSignal{
		Signal: signal.New(envelope(t, "ns/thing-1/things/twin/events/modified")),
		Targets: []connection.Target{
			target("a"),
			target("b", "triple"),
			target("c"),
			target("d", "triple", "ditto"),
		},
	}

	outcomes := p.ProcessOutbound(out)
	require.Len(t, outcomes, 4)

	byAddress := func(o Outcome[external.Message]) []string {
		var addrs []string
		for _, tgt := range o.Targets() {
			addrs = append(addrs, tgt.Address)
		}
		return addrs
	}

	assert.Equal(t, EngineDitto, outcomes[0].MapperID())
	assert.Equal(t, []string{"a", "c"}, byAddress(outcomes[0]))

	assert.Equal(t, "triple", outcomes[1].MapperID())
	assert.Equal(t, []string{"b"}, byAddress(outcomes[1]))

	assert.Equal(t, "triple", outcomes[2].MapperID())
	assert.Equal(t, []string{"d"}, byAddress(outcomes[2]))
	assert.Equal(t, EngineDitto, outcomes[3].MapperID())
	assert.Equal(t, []string{"d"}, byAddress(outcomes[3]))

	for _, o := range outcomes {
		assert.Equal(t, OutcomeMapped, o.Kind())
	}
}

func TestProcessOutbound_ExtraFieldsTravelWithEnvelope(t *testing.T) {
	p := newProcessor(t, connection.Connection{})

	s := signal.New(envelope(t, "ns/thing-1/things/twin/events/modified")).
		WithExtra(json.RawMessage(`{"attributes":{"location":"kitchen"}}`))
	outcomes := p.ProcessOutbound(OutboundSignal{Signal: s, Targets: []connection.Target{target("a")}})

	require.Len(t, outcomes, 1)
	require.Equal(t, OutcomeMapped, outcomes[0].Kind())

	var round signal.Adaptable
	require.NoError(t, json.Unmarshal(outcomes[0].Value().PayloadBytes(), &round))
	assert.JSONEq(t, `{"attributes":{"location":"kitchen"}}`, string(round.Extra))
}

func TestRawMapper_RoundTrip(t *testing.T) {
	conn := connection.Connection{}
	p := newProcessor(t, conn)

	inbound := external.NewMessage(map[string]string{
		"content-type": "application/octet-stream",
		rawTopicHeader: "ns/thing-1/things/live/messages/ping",
	}).WithBytePayload([]byte(`{"ping":1}`)).WithPayloadMapping([]string{EngineRaw})

	outcomes := p.ProcessInbound(inbound)
	require.Len(t, outcomes, 1)
	require.Equal(t, OutcomeMapped, outcomes[0].Kind())
	mapped := outcomes[0].Value()
	assert.Equal(t, "ns/thing-1/things/live/messages/ping", mapped.Topic.String())
	assert.JSONEq(t, `{"ping":1}`, string(mapped.Value))

	outOutcomes := p.ProcessOutbound(OutboundSignal{
		Signal:  mapped,
		Targets: []connection.Target{target("out", EngineRaw)},
	})
	require.Len(t, outOutcomes, 1)
	require.Equal(t, OutcomeMapped, outOutcomes[0].Kind())
	assert.Equal(t, []byte(`{"ping":1}`), outOutcomes[0].Value().PayloadBytes())
}

func TestNewProcessor_UnknownEngine(t *testing.T) {
	conn := connection.Connection{
		Mappings: map[string]connection.MappingDefinition{
			"custom": {Engine: "no-such-engine"},
		},
	}
	_, err := NewProcessor(testRegistry(), conn)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no-such-engine")
}
