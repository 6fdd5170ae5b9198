// Package store implements the reactive micro-store every pacing primitive
// stores its state in: an immutable state record behind a single-writer
// mutex, with selector-gated subscriber notification.
//
// The registration/notification discipline is adapted from
// jonwraymond/toolops's health.Aggregator, which keeps an ordered registry
// of named checkers (map + an order slice) under a single mutex. Store
// keeps the same ordered-registry shape for subscribers instead of named
// checkers, and adds panic isolation per listener since, unlike health
// checks, a subscriber failing must never stop sibling subscribers from
// observing a state transition.
package store

import (
	"sync"
)

// UnhandledErrorHandler receives panics recovered from subscriber listeners.
// The default handler is a no-op; callers that want visibility should
// install one (e.g. routing into a pacelog.Logger).
type UnhandledErrorHandler func(recovered any)

// Store holds the current value of an immutable state record S and
// dispatches updates to registered subscribers.
//
// Store is safe for concurrent use. SetState calls are serialized by an
// internal mutex, matching the "single-threaded cooperative" scheduling
// model described for the primitives built on top of it (spec §5): callers
// never observe a partially-applied patch.
type Store[S any] struct {
	mu      sync.Mutex
	state   S
	subs    map[uint64]*subscription[S]
	order   []uint64
	nextID  uint64
	onPanic UnhandledErrorHandler
}

// New creates a Store seeded with the given initial state.
func New[S any](initial S) *Store[S] {
	return &Store[S]{
		state: initial,
		subs:  make(map[uint64]*subscription[S]),
	}
}

// SetUnhandledErrorHandler installs the handler invoked when a subscriber
// listener panics. Not safe to call concurrently with notifications.
func (s *Store[S]) SetUnhandledErrorHandler(h UnhandledErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPanic = h
}

// State returns the current state record. The returned value is a
// snapshot: later mutations to the Store do not retroactively change it.
func (s *Store[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState applies patch to the current state to produce the next state,
// stores it, and notifies subscribers whose selected value changed.
// patch receives the state held at the time of the call (not a stale
// snapshot), so callers can express "merge a field" without a separate
// read-modify-write race.
func (s *Store[S]) SetState(patch func(S) S) {
	s.mu.Lock()
	next := patch(s.state)
	s.state = next
	subs := make([]*subscription[S], 0, len(s.order))
	for _, id := range s.order {
		subs = append(subs, s.subs[id])
	}
	onPanic := s.onPanic
	s.mu.Unlock()

	for _, sub := range subs {
		sub.notify(next, onPanic)
	}
}

// Unsubscribe detaches a listener previously registered with Subscribe.
// Calling it more than once is a no-op.
type Unsubscribe func()

type subscription[S any] struct {
	mu       sync.Mutex
	selector func(S) any
	equal    func(a, b any) bool
	listener func(any)
	lastSet  bool
	last     any
}

func (sub *subscription[S]) notify(next S, onPanic UnhandledErrorHandler) {
	selected := sub.selector(next)

	sub.mu.Lock()
	if sub.lastSet && sub.equal(sub.last, selected) {
		sub.mu.Unlock()
		return
	}
	sub.last = selected
	sub.lastSet = true
	listener := sub.listener
	sub.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil && onPanic != nil {
				onPanic(r)
			}
		}()
		listener(selected)
	}()
}

// Subscribe registers listener to be called whenever selector(newState) is
// not equal (per equal) to the last value that selector produced for this
// listener. Listeners are invoked in registration order. A listener whose
// selected value has not changed since the last notification is skipped.
//
// Subscribe is a free function (not a method) because Go methods cannot
// introduce a new type parameter beyond the receiver's.
func Subscribe[S, T any](s *Store[S], selector func(S) T, equal func(a, b T) bool, listener func(T)) Unsubscribe {
	wrapped := &subscription[S]{
		selector: func(state S) any { return selector(state) },
		equal:    func(a, b any) bool { return equal(a.(T), b.(T)) },
		listener: func(v any) { listener(v.(T)) },
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = wrapped
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, oid := range s.order {
				if oid == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Equal is a convenience comparable-type equality function for Subscribe's
// equal parameter.
func Equal[T comparable](a, b T) bool { return a == b }
