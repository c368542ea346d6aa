// Package logbuf keeps a bounded tail of recent output.
package logbuf

import "sync"

// Ring is a thread-safe ring buffer holding the last N entries.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	size  int
	pos   int
	full  bool
	total int
}

// New creates a ring buffer that keeps the last n entries. n below 1 is
// treated as 1.
func New[T any](n int) *Ring[T] {
	if n < 1 {
		n = 1
	}
	return &Ring[T]{
		items: make([]T, n),
		size:  n,
	}
}

// Add appends an entry, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.pos] = item
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
	r.total++
}

// All returns every stored entry, oldest first.
func (r *Ring[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]T, r.pos)
		copy(result, r.items[:r.pos])
		return result
	}

	result := make([]T, r.size)
	copy(result, r.items[r.pos:])
	copy(result[r.size-r.pos:], r.items[:r.pos])
	return result
}

// Last returns the last n entries. If fewer exist, returns all of them.
func (r *Ring[T]) Last(n int) []T {
	all := r.All()
	if n < 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Total returns how many entries were ever added, including evicted ones.
func (r *Ring[T]) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
