// Package ack tracks acknowledgement obligations for signals crossing the
// gateway: collecting the responses a request expects, and resolving each
// publish attempt into an acknowledgement, a synthesized weak
// acknowledgement, or nothing.
package ack

import (
	"context"
	"sync"
	"time"

	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Collector accumulates the command responses expected for one request. It
// is short-lived; its lifetime is bounded by the request it serves. Resolve
// happens once, either when the expected count arrives or when the await
// deadline passes with partial results.
type Collector struct {
	mu        sync.Mutex
	expected  int
	countSet  bool
	responses []signal.Acknowledgement
	done      chan struct{}
	resolved  bool
}

// NewCollector returns an unresolved collector. SetCount must be called
// before the collector can resolve successfully.
func NewCollector() *Collector {
	return &Collector{done: make(chan struct{})}
}

// SetCount fixes the number of expected responses. A count of zero resolves
// immediately.
func (c *Collector) SetCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expected = n
	c.countSet = true
	c.maybeResolveLocked()
}

// Add records one arrived response. Responses arriving after resolution are
// dropped.
func (c *Collector) Add(ack signal.Acknowledgement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return
	}
	c.responses = append(c.responses, ack)
	c.maybeResolveLocked()
}

func (c *Collector) maybeResolveLocked() {
	if !c.resolved && c.countSet && len(c.responses) >= c.expected {
		c.resolved = true
		close(c.done)
	}
}

// AllExpectedArrived reports whether every expected response has arrived.
func (c *Collector) AllExpectedArrived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countSet && len(c.responses) >= c.expected
}

// Responses returns the responses collected so far.
func (c *Collector) Responses() []signal.Acknowledgement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]signal.Acknowledgement, len(c.responses))
	copy(out, c.responses)
	return out
}

// Result is the outcome of awaiting a collector.
type Result struct {
	Responses []signal.Acknowledgement
	// AllArrived distinguishes a complete result from a timeout with
	// partial responses.
	AllArrived bool
}

// Await blocks until all expected responses arrived, the timeout passed, or
// the context was cancelled. A timeout is not an error; the caller inspects
// AllArrived.
func (c *Collector) Await(ctx context.Context, timeout time.Duration) (Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		// Timeout resolution must release later Await calls too.
		c.resolved = true
		close(c.done)
	}
	out := make([]signal.Acknowledgement, len(c.responses))
	copy(out, c.responses)
	return Result{
		Responses:  out,
		AllArrived: c.countSet && len(out) >= c.expected,
	}, nil
}
