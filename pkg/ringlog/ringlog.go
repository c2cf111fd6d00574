// Package ringlog provides a fixed-capacity buffer that retains the
// most recent entries, discarding the oldest on overflow.
package ringlog

// Ring is a bounded FIFO of the newest entries. Not safe for concurrent
// use; callers hold their own lock.
type Ring[T any] struct {
	entries []T
	cap     int
}

// New creates a ring retaining at most capacity entries. A capacity
// below one is treated as one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{cap: capacity}
}

// Append adds an entry, evicting the oldest when the ring is full.
func (r *Ring[T]) Append(v T) {
	r.entries = append(r.entries, v)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

// Snapshot returns the retained entries oldest-first. The returned
// slice is a copy.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of retained entries.
func (r *Ring[T]) Len() int {
	return len(r.entries)
}
