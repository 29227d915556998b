package placeholder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	topic, err := signal.ParseTopicPath("org.example/sensor-1/things/twin/events/modified")
	require.NoError(t, err)

	return NewResolver(
		HeaderSource{Headers: map[string]string{"device-id": "sensor-1", "reply-to": "replies"}},
		ThingSource{ID: signal.EntityID{Namespace: "org.example", Name: "sensor-1"}},
		TopicSource{Topic: topic},
	)
}

func TestResolver_Resolve(t *testing.T) {
	r := testResolver(t)

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"no placeholder", "telemetry/plain", "telemetry/plain"},
		{"thing id", "telemetry/{{ thing:id }}", "telemetry/org.example:sensor-1"},
		{"thing parts", "{{thing:namespace}}/{{ thing:name }}", "org.example/sensor-1"},
		{"header", "devices/{{ header:device-id }}/data", "devices/sensor-1/data"},
		{"header case-insensitive", "{{ header:Device-ID }}", "sensor-1"},
		{"topic", "{{ topic:channel }}/{{ topic:criterion }}/{{ topic:action }}", "twin/events/modified"},
		{"multiple same token", "{{ thing:name }}-{{ thing:name }}", "sensor-1-sensor-1"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := r.Resolve(test.template)
			require.NoError(t, err)
			assert.Equal(t, test.expected, got)
		})
	}
}

func TestResolver_UnresolvableToken(t *testing.T) {
	r := testResolver(t)

	_, err := r.Resolve("devices/{{ header:missing }}")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = r.Resolve("{{ unknown:name }}")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestResolver_ResolveAll(t *testing.T) {
	r := testResolver(t)

	resolved, err := r.ResolveAll(map[string]string{
		"device_id": "{{ thing:id }}",
		"static":    "value",
	})
	require.NoError(t, err)
	assert.Equal(t, "org.example:sensor-1", resolved["device_id"])
	assert.Equal(t, "value", resolved["static"])

	_, err = r.ResolveAll(map[string]string{"bad": "{{ header:nope }}"})
	require.Error(t, err)
}

func TestContainsPlaceholder(t *testing.T) {
	assert.True(t, ContainsPlaceholder("a/{{ thing:id }}/b"))
	assert.False(t, ContainsPlaceholder("a/b/c"))
}
