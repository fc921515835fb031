package engine

import (
	"sync"
	"time"
)

// Register holds the latest completed result of one producer. It has one
// writer and one reader and never queues: a Store replaces the previous
// value whether or not it was read.
type Register[T any] struct {
	mu    sync.Mutex
	value T
	at    time.Time
	seq   uint64
}

// Store replaces the held value.
func (r *Register[T]) Store(v T, at time.Time) {
	r.mu.Lock()
	r.value = v
	r.at = at
	r.seq++
	r.mu.Unlock()
}

// Load returns the held value, when it was produced, and its sequence
// number. ok is false until the first Store.
func (r *Register[T]) Load() (v T, at time.Time, seq uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.at, r.seq, r.seq > 0
}

// Fresh reports whether the held value was produced no earlier than maxAge before now.
func (r *Register[T]) Fresh(now time.Time, maxAge time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq > 0 && now.Sub(r.at) <= maxAge
}
