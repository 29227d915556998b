// Package buffer provides a thread-safe fixed-capacity ring buffer that
// drops the oldest entries on overflow. Connection log stores use it to keep
// the most recent entries per category without unbounded growth.
package buffer

import (
	"sync"
)

// Ring is a fixed-capacity circular buffer. When full, a write evicts the
// oldest entry. The zero value is not usable; use NewRing.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	start   int
	size    int
	dropped uint64
}

// NewRing creates a ring buffer holding at most capacity entries. Capacity
// must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Write appends an entry, evicting the oldest when full.
func (r *Ring[T]) Write(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = item
		r.size++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
	r.dropped++
}

// Snapshot returns the buffered entries oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Size returns the current number of entries.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of entries.
func (r *Ring[T]) Capacity() int {
	return len(r.items)
}

// Dropped returns how many entries were evicted by overflow.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Clear removes all entries.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.size = 0
}
