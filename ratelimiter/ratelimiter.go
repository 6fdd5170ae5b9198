// Package ratelimiter enforces hard admission control: a call runs only
// if doing so would not push the count of executions in the active
// window past limit. Unlike debouncer/throttler, rejected calls are
// discarded outright rather than deferred or collapsed.
//
// Its defaulting style and mutex-guarded decision path mirror
// debouncer/throttler, grounded in jonwraymond/toolops's
// resilience.RateLimiter shape — though the admission algorithm itself
// (sliding window over a timestamp slice, or a fixed bucket) is spec's,
// not the teacher's token-bucket.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacelog"
	"github.com/tanstack/go-pacer/pacing"
	"github.com/tanstack/go-pacer/store"
)

// WindowType selects the admission algorithm.
type WindowType int

const (
	// Sliding purges execution timestamps older than now-window on every
	// call; admits iff fewer than limit remain.
	Sliding WindowType = iota
	// Fixed buckets time into window-sized, aligned spans; admits iff
	// the current bucket's count is below limit.
	Fixed
)

// TargetFunc is the work a RateLimiter paces.
type TargetFunc[T any] func(args T) error

// State is the observable snapshot of a RateLimiter.
type State[T any] struct {
	Status         pacing.Status
	ExecutionCount int
	RejectionCount int
	LastArgs       T
	HasLastArgs    bool
	ExecutionTimes []time.Time // sliding window only; ordered ascending
	BucketStart    time.Time   // fixed window only
	BucketCount    int         // fixed window only
}

// Options configures a RateLimiter.
type Options[T any] struct {
	Limit      pacing.Setting[int]
	Window     time.Duration
	WindowType WindowType

	Enabled pacing.Setting[bool]

	OnExecute func(args T)
	OnError   func(args T, err error)
	OnReject  func(args T)

	Clock        clock.Clock
	Observer     *pacelog.Observer
	Name         string
	InitialState *State[T]
}

func (o Options[T]) enabled() bool {
	if o.Enabled.IsZero() {
		return true
	}
	return o.Enabled.Resolve()
}

// RateLimiter admits or rejects calls to stay within limit executions
// per window. Safe for concurrent use.
type RateLimiter[T any] struct {
	target TargetFunc[T]
	opts   Options[T]
	store  *store.Store[State[T]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta

	mu sync.Mutex
}

// New creates a RateLimiter around target.
func New[T any](target TargetFunc[T], opts Options[T]) *RateLimiter[T] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "ratelimiter", Name: opts.Name}

	initial := State[T]{Status: pacing.StatusIdle}
	if opts.InitialState != nil {
		initial = *opts.InitialState
	}

	rl := &RateLimiter[T]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
	}
	if !rl.opts.enabled() {
		rl.store.SetState(func(s State[T]) State[T] { s.Status = pacing.StatusDisabled; return s })
	}
	return rl
}

// Store exposes the reactive state store for subscription.
func (rl *RateLimiter[T]) Store() *store.Store[State[T]] { return rl.store }

// State returns the current snapshot.
func (rl *RateLimiter[T]) State() State[T] { return rl.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (rl *RateLimiter[T]) Snapshot() State[T] { return rl.store.State() }

// MaybeExecute admits and runs target iff the window has a free slot.
// Returns true iff the call was admitted (and therefore dispatched).
func (rl *RateLimiter[T]) MaybeExecute(args T) bool {
	rl.mu.Lock()

	if !rl.opts.enabled() {
		rl.mu.Unlock()
		return false
	}

	limit := rl.opts.Limit.Resolve()
	now := rl.opts.Clock.Now()
	admitted := false

	switch rl.opts.WindowType {
	case Fixed:
		admitted = rl.admitFixedLocked(now, limit)
	default:
		admitted = rl.admitSlidingLocked(now, limit)
	}

	if !admitted {
		rl.store.SetState(func(s State[T]) State[T] {
			s.RejectionCount++
			return s
		})
		rl.mu.Unlock()
		if rl.opts.OnReject != nil {
			rl.opts.OnReject(args)
		}
		rl.obs.Metrics.RecordDecision(context.Background(), rl.meta, pacelog.OutcomeRejected)
		return false
	}

	rl.store.SetState(func(s State[T]) State[T] {
		s.LastArgs = args
		s.HasLastArgs = true
		s.Status = pacing.StatusExecuting
		return s
	})
	rl.mu.Unlock()

	err := rl.target(args)

	rl.store.SetState(func(s State[T]) State[T] {
		s.Status = pacing.StatusSettled
		if err == nil {
			s.ExecutionCount++
		}
		return s
	})

	if err != nil {
		rl.obs.Metrics.RecordDecision(context.Background(), rl.meta, pacelog.OutcomeErrored)
		if rl.opts.OnError != nil {
			rl.opts.OnError(args, err)
		}
		return true
	}
	rl.obs.Metrics.RecordDecision(context.Background(), rl.meta, pacelog.OutcomeExecuted)
	if rl.opts.OnExecute != nil {
		rl.opts.OnExecute(args)
	}
	return true
}

// admitSlidingLocked purges stale timestamps and admits iff under limit.
// Caller holds rl.mu.
func (rl *RateLimiter[T]) admitSlidingLocked(now time.Time, limit int) bool {
	st := rl.store.State()
	cutoff := now.Add(-rl.opts.Window)
	kept := st.ExecutionTimes[:0:0]
	for _, ts := range st.ExecutionTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		rl.store.SetState(func(s State[T]) State[T] {
			s.ExecutionTimes = kept
			return s
		})
		return false
	}
	kept = append(kept, now)
	rl.store.SetState(func(s State[T]) State[T] {
		s.ExecutionTimes = kept
		return s
	})
	return true
}

// admitFixedLocked rolls the bucket over if now has crossed a window
// boundary, then admits iff the bucket's count is under limit. Caller
// holds rl.mu.
func (rl *RateLimiter[T]) admitFixedLocked(now time.Time, limit int) bool {
	st := rl.store.State()
	window := rl.opts.Window
	bucketStart := bucketStartFor(now, window)

	if !st.BucketStart.Equal(bucketStart) {
		st.BucketStart = bucketStart
		st.BucketCount = 0
	}
	if st.BucketCount >= limit {
		rl.store.SetState(func(s State[T]) State[T] {
			s.BucketStart = st.BucketStart
			s.BucketCount = st.BucketCount
			return s
		})
		return false
	}
	st.BucketCount++
	rl.store.SetState(func(s State[T]) State[T] {
		s.BucketStart = st.BucketStart
		s.BucketCount = st.BucketCount
		return s
	})
	return true
}

func bucketStartFor(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return now
	}
	rem := now.UnixNano() % int64(window)
	return now.Add(-time.Duration(rem))
}

// GetMsUntilNextWindow returns the delay until at least one slot frees.
// For sliding windows this is oldest+window-now; for fixed,
// bucketStart+window-now. Zero or negative means a slot is free now.
func (rl *RateLimiter[T]) GetMsUntilNextWindow() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.opts.Clock.Now()
	st := rl.store.State()

	if rl.opts.WindowType == Fixed {
		return st.BucketStart.Add(rl.opts.Window).Sub(now)
	}
	if len(st.ExecutionTimes) == 0 {
		return 0
	}
	return st.ExecutionTimes[0].Add(rl.opts.Window).Sub(now)
}

// Reset clears execution timestamps/bucket state. Counters remain
// (observational), per spec.
func (rl *RateLimiter[T]) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.store.SetState(func(s State[T]) State[T] {
		s.ExecutionTimes = nil
		s.BucketStart = time.Time{}
		s.BucketCount = 0
		return s
	})
}

// GetExecutionCount returns the number of admitted, successfully
// completed calls.
func (rl *RateLimiter[T]) GetExecutionCount() int { return rl.store.State().ExecutionCount }

// GetRejectionCount returns the number of calls rejected for exceeding
// the limit.
func (rl *RateLimiter[T]) GetRejectionCount() int { return rl.store.State().RejectionCount }
