package external

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_HeaderAccess(t *testing.T) {
	m := NewMessage(map[string]string{
		"Content-Type":   "application/json",
		"Correlation-ID": "corr-1",
	})

	assert.Equal(t, "application/json", m.ContentType())
	assert.Equal(t, "corr-1", m.CorrelationID())

	v, ok := m.Header("CONTENT-type")
	require.True(t, ok)
	assert.Equal(t, "application/json", v)

	_, ok = m.Header("missing")
	assert.False(t, ok)
}

func TestMessage_PayloadExclusivity(t *testing.T) {
	m := NewMessage(nil).WithTextPayload(`{"a":1}`)
	assert.True(t, m.IsText())
	assert.Equal(t, `{"a":1}`, m.TextPayload())
	assert.Nil(t, m.BytePayload())
	assert.Equal(t, []byte(`{"a":1}`), m.PayloadBytes())

	m = m.WithBytePayload([]byte{0x01, 0x02})
	assert.False(t, m.IsText())
	assert.Empty(t, m.TextPayload())
	assert.Equal(t, []byte{0x01, 0x02}, m.PayloadBytes())
}

func TestMessage_CopySemantics(t *testing.T) {
	orig := NewMessage(map[string]string{"a": "1"})
	modified := orig.WithHeader("b", "2").WithTopicPath("ns/thing/things/twin/events")

	_, hasB := orig.Header("b")
	assert.False(t, hasB, "original must stay untouched")
	assert.Empty(t, orig.TopicPath())

	_, hasB = modified.Header("b")
	assert.True(t, hasB)
	assert.Equal(t, "ns/thing/things/twin/events", modified.TopicPath())

	// Headers() hands out a copy, not the internal map.
	headers := modified.Headers()
	headers["c"] = "3"
	_, hasC := modified.Header("c")
	assert.False(t, hasC)
}

func TestHeaderFilter_IncludeExclude(t *testing.T) {
	m := NewMessage(map[string]string{
		"device-id":     "sensor-1",
		"content-type":  "text/plain",
		"x-custom":      "value",
		"authorization": "secret",
	})

	include := HeaderFilter{Mode: FilterInclude, Names: []string{"Device-ID", "content-type"}}
	included := include.Apply(m)
	assert.Len(t, included.Headers(), 2)
	_, ok := included.Header("authorization")
	assert.False(t, ok)

	exclude := HeaderFilter{Mode: FilterExclude, Names: []string{"authorization"}}
	excluded := exclude.Apply(m)
	assert.Len(t, excluded.Headers(), 3)
	_, ok = excluded.Header("device-id")
	assert.True(t, ok)
}

// Excluding set S and including the complement of S reassembles the original
// header set.
func TestHeaderFilter_RoundTrip(t *testing.T) {
	original := NewMessage(map[string]string{
		"a": "1",
		"b": "2",
		"c": "3",
		"d": "4",
	})

	s := []string{"a", "c"}
	complement := []string{"b", "d"}

	afterExclude := HeaderFilter{Mode: FilterExclude, Names: s}.Apply(original)
	afterInclude := HeaderFilter{Mode: FilterInclude, Names: complement}.Apply(original)

	// Excluding S is the same view as including its complement.
	assert.Equal(t, afterInclude.Headers(), afterExclude.Headers())

	// Re-adding the S partition restores the original header set.
	keptS := HeaderFilter{Mode: FilterInclude, Names: s}.Apply(original)
	merged := afterExclude.Headers()
	for k, v := range keptS.Headers() {
		merged[k] = v
	}
	assert.Equal(t, original.Headers(), merged)
}
