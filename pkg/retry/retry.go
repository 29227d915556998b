// Package retry provides exponential backoff retry logic for connection
// recovery and transient broker failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried, such as
// connection validation failures.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = no retry, just run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent thundering herd

	// ConnectTimeout bounds a single connect attempt. Expiry counts as a
	// transient failure and feeds the backoff schedule. Zero leaves the
	// attempt unbounded.
	ConnectTimeout time.Duration
}

// DefaultConfig returns sensible defaults for retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Reconnect returns a config tuned for broker reconnection: many attempts
// with a bounded one-minute ceiling between them.
func Reconnect() Config {
	return Config{
		MaxAttempts:    0, // callers drive attempts through NextDelay
		InitialDelay:   time.Second,
		MaxDelay:       time.Minute,
		Multiplier:     2.0,
		AddJitter:      true,
		ConnectTimeout: 30 * time.Second,
	}
}

// NextDelay returns the backoff delay for the given zero-based attempt,
// capped at MaxDelay and optionally jittered. It never returns a negative
// duration.
func (c Config) NextDelay(attempt int) time.Duration {
	delay := c.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	maxDelay := c.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for i := 0; i < attempt; i++ {
		next := float64(delay) * multiplier
		if next >= float64(maxDelay) {
			delay = maxDelay
			break
		}
		delay = time.Duration(next)
	}

	if c.AddJitter && delay > 4 {
		randMu.Lock()
		jitter := time.Duration(randSource.Int63n(int64(delay / 4)))
		randMu.Unlock()
		delay += jitter
	}
	return delay
}

// Do executes fn with exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1 // At least try once
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(cfg.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+2, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
