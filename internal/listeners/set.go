// Package listeners provides the subscriber set and ordered event
// dispatcher shared by the transport session and the schema registry.
package listeners

import "sync"

// Set is a concurrency-safe subscriber set. Notification iterates a copy
// taken under the lock, so listeners may add or remove subscribers
// (including themselves) from inside a callback; the change applies from
// the next notification on.
type Set[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []entry[T]
}

type entry[T any] struct {
	id       uint64
	listener T
}

// Add subscribes l and returns a function that unsubscribes it. The
// returned function is idempotent.
func (s *Set[T]) Add(l T) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, entry[T]{id: id, listener: l})
	return func() { s.remove(id) }
}

func (s *Set[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// Snapshot returns the current subscribers in registration order.
func (s *Set[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.listener
	}
	return out
}

// Each calls f for every subscriber present when Each was called.
func (s *Set[T]) Each(f func(T)) {
	for _, l := range s.Snapshot() {
		f(l)
	}
}

// Len returns the number of subscribers.
func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
