// Package ringbuf provides a bounded, newest-first history buffer.
// When full, a push overwrites the oldest element. Safe for concurrent use:
// one writer and any number of snapshot readers.
package ringbuf

import "sync"

// Ring is a fixed-capacity overwrite ring.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	head int // next write position
	size int

	// Overwritten counts elements evicted by pushes into a full ring.
	overwritten uint64
}

// New creates a ring with the given capacity. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push records v as the newest element, evicting the oldest if full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.overwritten++
	}
	r.mu.Unlock()
}

// Latest returns the newest element.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)], true
}

// Snapshot returns a newest-first copy of the contents.
func (r *Ring[T]) Snapshot() []T {
	return r.Head(-1)
}

// Head returns up to n newest elements, newest first. n < 0 means all.
func (r *Ring[T]) Head(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	idx := r.head
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Overwritten returns the total number of evicted elements.
func (r *Ring[T]) Overwritten() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overwritten
}

// Clear drops all elements.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.size = 0, 0
	r.mu.Unlock()
}
