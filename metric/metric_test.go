package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters_SnapshotAndReset(t *testing.T) {
	c := NewCounters("conn-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Consumed("commands")
	c.Consumed("commands")
	c.InboundMapped("commands")
	c.InboundDropped("commands")
	c.Published("events")
	c.Filtered("events")
	c.OutboundFailed("events", "ditto")

	snap := c.Snapshot()
	require.Contains(t, snap.Sources, "commands")
	require.Contains(t, snap.Targets, "events")

	source := snap.Sources["commands"]
	assert.Equal(t, uint64(2), source.Consumed.Count)
	assert.Equal(t, base, source.Consumed.LastMessageAt)
	assert.Equal(t, uint64(1), source.Mapped.Count)
	assert.Equal(t, uint64(1), source.Dropped.Count)

	target := snap.Targets["events"]
	assert.Equal(t, uint64(1), target.Published.Count)
	assert.Equal(t, uint64(1), target.Filtered.Count)
	assert.Equal(t, uint64(1), target.Failed.Count)

	c.Reset()
	reset := c.Snapshot()
	assert.Empty(t, reset.Sources)
	assert.Empty(t, reset.Targets)
}

func TestCounters_SnapshotIsCopy(t *testing.T) {
	c := NewCounters("conn-1", nil)
	c.Consumed("commands")

	snap := c.Snapshot()
	c.Consumed("commands")

	assert.Equal(t, uint64(1), snap.Sources["commands"].Consumed.Count)
	assert.Equal(t, uint64(2), c.Snapshot().Sources["commands"].Consumed.Count)
}

func TestCounters_PrometheusMirror(t *testing.T) {
	registry := NewRegistry()
	c := NewCounters("conn-1", registry.Metrics)

	c.Consumed("commands")
	c.Published("events")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["connectivity_inbound_consumed_total"])
	assert.True(t, found["connectivity_outbound_published_total"])
}
