package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	fatal := errors.New("blocked hostname")
	err := Do(context.Background(), Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}, func() error {
		attempts++
		return NonRetryable(fatal)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, fatal))
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultConfig(), func() error {
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNextDelay_CapsAtMaxDelay(t *testing.T) {
	cfg := Config{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	assert.Equal(t, time.Second, cfg.NextDelay(0))
	assert.Equal(t, 2*time.Second, cfg.NextDelay(1))
	assert.Equal(t, 10*time.Second, cfg.NextDelay(10))
	assert.Equal(t, 10*time.Second, cfg.NextDelay(100))
}

func TestDoWithResult(t *testing.T) {
	value, err := DoWithResult(context.Background(), DefaultConfig(), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}
