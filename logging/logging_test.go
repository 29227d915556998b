package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*ConnectionLogger, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New("conn-1", nil)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestConnectionLogger_DisabledCollectsNothing(t *testing.T) {
	l, _ := newTestLogger(t)

	l.Success(CategorySource, "commands", "corr-1", "consumed message")
	assert.False(t, l.Enabled())
	assert.Empty(t, l.Entries())
}

func TestConnectionLogger_EnableCollects(t *testing.T) {
	l, _ := newTestLogger(t)
	l.Enable(time.Minute)
	require.True(t, l.Enabled())

	l.Success(CategorySource, "commands", "corr-1", "mapped %d signals", 2)
	l.Failure(CategoryTarget, "events", "corr-2", "publish failed")

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, LevelSuccess, entries[0].Level)
	assert.Equal(t, "mapped 2 signals", entries[0].Message)
	assert.Equal(t, CategoryTarget, entries[1].Category)
	assert.Equal(t, LevelFailure, entries[1].Level)
}

func TestConnectionLogger_EnablementExpires(t *testing.T) {
	l, now := newTestLogger(t)
	l.Enable(time.Minute)

	l.Success(CategorySource, "commands", "", "in window")
	*now = now.Add(2 * time.Minute)

	assert.False(t, l.Enabled())
	l.Success(CategorySource, "commands", "", "after window")

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "in window", entries[0].Message)
}

func TestConnectionLogger_ResetDiscards(t *testing.T) {
	l, _ := newTestLogger(t)
	l.Enable(time.Minute)
	l.Success(CategoryResponse, "", "corr-1", "response routed")

	l.Reset()
	assert.False(t, l.Enabled())
	assert.Empty(t, l.Entries())
}
