// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package observe provides the notification half of the shared-entity
// store: a Subject delivers typed change values to subscribers, in the order
// they were published, after the publisher has released its own locks.
package observe

import "sync"

// Subject fans a value out to registered callbacks. The zero value is ready
// to use. Subject is safe for concurrent use.
type Subject[T any] struct {
	mu   sync.Mutex
	subs map[uint64]func(T)
	// order keeps delivery deterministic.
	order []uint64
	next  uint64
}

// Subscribe registers fn and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (s *Subject[T]) Subscribe(fn func(T)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[uint64]func(T))
	}
	s.next++
	id := s.next
	s.subs[id] = fn
	s.order = append(s.order, id)
	return func() { s.unsubscribe(id) }
}

func (s *Subject[T]) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return
	}
	delete(s.subs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Publish calls every subscriber with v. Subscribers added or removed while
// Publish runs take effect on the next call.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Reset drops every subscriber.
func (s *Subject[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
	s.order = nil
}
