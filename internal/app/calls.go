package app

import (
	"context"
	"sync"
)

// CallSet tracks in-flight requests so they can be cancelled in bulk.
// After Cancel the set stays cancelled: later calls start out cancelled.
type CallSet struct {
	mu        sync.Mutex
	next      uint64
	calls     map[uint64]context.CancelFunc
	cancelled bool
}

func NewCallSet() *CallSet {
	return &CallSet{calls: make(map[uint64]context.CancelFunc)}
}

// Track derives a cancellable context for one request. done must be
// called once the request has finished.
func (s *CallSet) Track(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		cancel()
		return ctx, func() {}
	}
	id := s.next
	s.next++
	s.calls[id] = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.calls, id)
		s.mu.Unlock()
		cancel()
	}
}

// Cancel aborts every tracked request.
func (s *CallSet) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	calls := s.calls
	s.calls = make(map[uint64]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range calls {
		cancel()
	}
}

func (s *CallSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
