// Package logging keeps per-connection log entries for retrieval through
// the connection log commands. Entries always flow to the structured logger;
// the in-memory ring buffers only fill while logging is explicitly enabled,
// bounded by a duration.
package logging

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eclipse-ditto/ditto-sub022/pkg/buffer"
)

// Category classifies where in the pipeline an entry originated.
type Category string

// Log categories.
const (
	CategorySource   Category = "source"
	CategoryTarget   Category = "target"
	CategoryResponse Category = "response"
)

// Level is the outcome level of an entry.
type Level string

// Log levels.
const (
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
)

// Entry is one retrievable connection log entry.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Category      Category  `json:"category"`
	Level         Level     `json:"level"`
	Message       string    `json:"message"`
	Address       string    `json:"address,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// DefaultCapacity is the per-category ring buffer capacity.
const DefaultCapacity = 200

// ConnectionLogger collects entries for one connection.
type ConnectionLogger struct {
	connectionID string
	log          *slog.Logger
	now          func() time.Time

	mu           sync.Mutex
	enabledUntil time.Time
	buffers      map[Category]*buffer.Ring[Entry]
}

// New creates a logger with logging disabled.
func New(connectionID string, logger *slog.Logger) *ConnectionLogger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ConnectionLogger{
		connectionID: connectionID,
		log:          logger.With("connection_id", connectionID),
		now:          time.Now,
		buffers:      map[Category]*buffer.Ring[Entry]{},
	}
	for _, category := range []Category{CategorySource, CategoryTarget, CategoryResponse} {
		l.buffers[category] = buffer.NewRing[Entry](DefaultCapacity)
	}
	return l
}

// Enable starts collecting entries until the duration passes.
func (l *ConnectionLogger) Enable(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabledUntil = l.now().Add(d)
}

// Reset disables collection and discards all buffered entries.
func (l *ConnectionLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabledUntil = time.Time{}
	for _, ring := range l.buffers {
		ring.Clear()
	}
}

// Enabled reports whether entries are currently collected.
func (l *ConnectionLogger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.enabledUntil)
}

// EnabledUntil returns the collection deadline, zero when disabled.
func (l *ConnectionLogger) EnabledUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabledUntil
}

// Success records a successful pipeline step.
func (l *ConnectionLogger) Success(category Category, address, correlationID, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	l.log.Debug(message, "category", string(category), "address", address, "correlation_id", correlationID)
	l.record(category, LevelSuccess, address, correlationID, message)
}

// Failure records a failed pipeline step.
func (l *ConnectionLogger) Failure(category Category, address, correlationID, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	l.log.Warn(message, "category", string(category), "address", address, "correlation_id", correlationID)
	l.record(category, LevelFailure, address, correlationID, message)
}

func (l *ConnectionLogger) record(category Category, level Level, address, correlationID, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.now().Before(l.enabledUntil) {
		return
	}
	ring, ok := l.buffers[category]
	if !ok {
		return
	}
	ring.Write(Entry{
		Timestamp:     l.now(),
		Category:      category,
		Level:         level,
		Message:       message,
		Address:       address,
		CorrelationID: correlationID,
	})
}

// Entries returns all buffered entries ordered by timestamp.
func (l *ConnectionLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, ring := range l.buffers {
		out = append(out, ring.Snapshot()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
