package signal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopicPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TopicPath
		wantErr bool
	}{
		{
			name:  "twin event with action",
			input: "org.example/sensor-1/things/twin/events/modified",
			want: TopicPath{
				Namespace:  "org.example",
				EntityName: "sensor-1",
				Group:      GroupThings,
				Channel:    ChannelTwin,
				Criterion:  CriterionEvents,
				Action:     "modified",
			},
		},
		{
			name:  "live message with nested action",
			input: "org.example/sensor-1/things/live/messages/temperature/read",
			want: TopicPath{
				Namespace:  "org.example",
				EntityName: "sensor-1",
				Group:      GroupThings,
				Channel:    ChannelLive,
				Criterion:  CriterionMessages,
				Action:     "temperature/read",
			},
		},
		{name: "too few segments", input: "a/b/things", wantErr: true},
		{name: "unknown group", input: "a/b/gadgets/twin/events", wantErr: true},
		{name: "unknown channel", input: "a/b/things/shadow/events", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseTopicPath(test.input)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
			assert.Equal(t, test.input, got.String())
		})
	}
}

func TestParseEntityID(t *testing.T) {
	id, err := ParseEntityID("org.example:sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "org.example", id.Namespace)
	assert.Equal(t, "sensor-1", id.Name)
	assert.Equal(t, "org.example:sensor-1", id.String())

	_, err = ParseEntityID("no-separator")
	require.Error(t, err)
	_, err = ParseEntityID("ns:")
	require.Error(t, err)
}

func TestHeaders_CaseInsensitive(t *testing.T) {
	h := NewHeaders(map[string]string{
		"Correlation-Id": "corr-1",
		"Content-Type":   "application/json",
	})
	assert.Equal(t, "corr-1", h.Get("correlation-ID"))
	assert.Equal(t, "corr-1", h.CorrelationID())
	assert.Equal(t, "application/json", h.ContentType())
	assert.True(t, h.Has("CONTENT-TYPE"))

	h.Set("Reply-To", "commands.reply")
	assert.Equal(t, "commands.reply", h.ReplyTo())
}

func TestHeaders_Lists(t *testing.T) {
	h := NewHeaders(map[string]string{
		"read-subjects":  "integration:solution:reader, integration:other",
		"requested-acks": "twin-persisted",
	})
	assert.Equal(t, []string{"integration:solution:reader", "integration:other"}, h.ReadSubjects())
	assert.Equal(t, []string{"twin-persisted"}, h.RequestedAcks())
	assert.Nil(t, Headers{}.ReadSubjects())
}

func TestSignal_Kind(t *testing.T) {
	event := New(Adaptable{Topic: mustTopic(t, "ns/thing/things/twin/events/modified")})
	assert.Equal(t, KindEvent, event.Kind())

	command := New(Adaptable{Topic: mustTopic(t, "ns/thing/things/twin/commands/modify")})
	assert.Equal(t, KindCommand, command.Kind())

	response := New(Adaptable{Topic: mustTopic(t, "ns/thing/things/twin/commands/modify"), Status: 204})
	assert.Equal(t, KindResponse, response.Kind())

	errResp := New(Adaptable{Topic: mustTopic(t, "ns/thing/things/twin/errors"), Status: 404})
	assert.Equal(t, KindError, errResp.Kind())
}

func TestSignal_JSONRoundTrip(t *testing.T) {
	s := New(Adaptable{
		Topic:   mustTopic(t, "org.example/sensor-1/things/twin/events/modified"),
		Headers: NewHeaders(map[string]string{"correlation-id": "corr-1"}),
		Path:    "/features/temperature",
		Value:   json.RawMessage(`{"properties":{"value":23.5}}`),
	})

	data, err := s.ToJSON()
	require.NoError(t, err)

	parsed, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, s.Topic, parsed.Topic)
	assert.Equal(t, "corr-1", parsed.CorrelationID())
	assert.JSONEq(t, string(s.Value), string(parsed.Value))
}

func TestSignal_FieldTreeMergesExtra(t *testing.T) {
	s := New(Adaptable{
		Topic: mustTopic(t, "ns/thing/things/twin/events/modified"),
		Value: json.RawMessage(`{"attributes":{"location":"hall"}}`),
		Extra: json.RawMessage(`{"features":{"temperature":{"properties":{"value":7}}}}`),
	})
	tree := s.FieldTree()
	assert.Contains(t, tree, "attributes")
	assert.Contains(t, tree, "features")
}

func TestSignal_WithHeadersDoesNotMutate(t *testing.T) {
	orig := New(Adaptable{
		Topic:   mustTopic(t, "ns/thing/things/twin/events/modified"),
		Headers: NewHeaders(map[string]string{"a": "1"}),
	})
	modified := orig.WithHeaders(map[string]string{"b": "2"})
	assert.Equal(t, "2", modified.Headers.Get("b"))
	assert.False(t, orig.Headers.Has("b"))
}

func TestAcknowledgements(t *testing.T) {
	id := EntityID{Namespace: "ns", Name: "thing"}

	ok := NewAcknowledgement("custom-ack", id, "corr-1")
	assert.True(t, ok.IsSuccess())
	assert.False(t, ok.Weak)

	weak := NewWeakAcknowledgement("custom-ack", id, "corr-1")
	assert.True(t, weak.IsSuccess())
	assert.True(t, weak.Weak)

	failed := NewFailedAcknowledgement("custom-ack", id, "corr-1", 0, nil)
	assert.False(t, failed.IsSuccess())
	assert.Equal(t, 500, failed.Status)
}

func TestAggregateStatus(t *testing.T) {
	id := EntityID{Namespace: "ns", Name: "thing"}
	ok := NewAcknowledgement("a", id, "corr-1")
	failed := NewFailedAcknowledgement("b", id, "corr-1", 503, nil)

	assert.Equal(t, 408, AggregateStatus(nil))
	assert.Equal(t, 503, AggregateStatus([]Acknowledgement{failed}))
	assert.Equal(t, 200, AggregateStatus([]Acknowledgement{ok, ok}))
	assert.Equal(t, 424, AggregateStatus([]Acknowledgement{ok, failed}))
}

func mustTopic(t *testing.T, s string) TopicPath {
	t.Helper()
	tp, err := ParseTopicPath(s)
	require.NoError(t, err)
	return tp
}
