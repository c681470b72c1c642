// Package testutil provides small test doubles shared across the agent's
// package tests, in the spirit of the teacher's testutil.Accumulator: a
// mutex-protected in-memory recorder that tests can assert against instead
// of standing up a real Redis/AMQP/socket endpoint.
package testutil

import (
	"sync"

	"github.com/awesant/awesant-go/internal/event"
)

// Sink is a mocked-out output adapter: it records every event it's pushed
// and can be made to fail on demand, for exercising the stash/drain path
// (spec.md §3's Stash invariant) without a real downstream.
type Sink struct {
	mu sync.Mutex

	Events []*event.Event

	connected bool
	closed    bool

	// FailPush, while true, makes every Push call fail and return FailErr
	// without recording any of its events. Tests flip it back to false to
	// let a subsequent drain attempt succeed.
	FailPush bool
	FailErr  error
}

// Connect satisfies the outputs adapter interface.
func (s *Sink) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Close satisfies the outputs adapter interface.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Push records events, or fails with FailErr if FailPush is set.
func (s *Sink) Push(events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPush {
		return s.FailErr
	}
	s.Events = append(s.Events, events...)
	return nil
}

// Len returns the number of events recorded so far.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Events)
}

// Connected reports whether Connect has been called.
func (s *Sink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
