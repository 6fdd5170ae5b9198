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

// AsyncTargetFunc is the work an AsyncRateLimiter paces.
type AsyncTargetFunc[T, R any] func(ctx context.Context, args T) (R, error)

// AsyncState is the observable snapshot of an AsyncRateLimiter.
type AsyncState[T, R any] struct {
	Status            pacing.Status
	ExecutionCount    int
	RejectionCount    int
	SuccessCount      int
	ErrorCount        int
	IsExecuting       bool
	LastArgs          T
	HasLastArgs       bool
	LastResult        R
	LastError         error
	LastExecutionTime time.Time
	ExecutionTimes    []time.Time
	BucketStart       time.Time
	BucketCount       int
}

// AsyncOptions configures an AsyncRateLimiter.
type AsyncOptions[T, R any] struct {
	Limit      pacing.Setting[int]
	Window     time.Duration
	WindowType WindowType

	Enabled pacing.Setting[bool]

	OnSuccess func(args T, result R)
	OnError   func(args T, err error)
	OnReject  func(args T)
	OnSettled func(args T, result R, err error)

	ThrowOnError *bool

	Clock        clock.Clock
	Observer     *pacelog.Observer
	Name         string
	InitialState *AsyncState[T, R]
}

func (o AsyncOptions[T, R]) enabled() bool {
	if o.Enabled.IsZero() {
		return true
	}
	return o.Enabled.Resolve()
}

func (o AsyncOptions[T, R]) throwOnError() bool {
	if o.ThrowOnError != nil {
		return *o.ThrowOnError
	}
	return o.OnError == nil
}

// AsyncRateLimiter is the async counterpart of RateLimiter. Admission
// control happens synchronously under the same lock as the sync variant;
// an admitted call then runs the target concurrently with any other
// admitted call, since rate limiting caps call rate, not concurrency
// (unlike AsyncDebouncer/AsyncThrottler's single-flight gate).
type AsyncRateLimiter[T, R any] struct {
	target AsyncTargetFunc[T, R]
	opts   AsyncOptions[T, R]
	store  *store.Store[AsyncState[T, R]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta

	mu sync.Mutex
}

// NewAsync creates an AsyncRateLimiter around target.
func NewAsync[T, R any](target AsyncTargetFunc[T, R], opts AsyncOptions[T, R]) *AsyncRateLimiter[T, R] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "async_ratelimiter", Name: opts.Name}

	initial := AsyncState[T, R]{Status: pacing.StatusIdle}
	if opts.InitialState != nil {
		initial = *opts.InitialState
		initial.IsExecuting = false
	}

	rl := &AsyncRateLimiter[T, R]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
	}
	if !rl.opts.enabled() {
		rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] { s.Status = pacing.StatusDisabled; return s })
	}
	return rl
}

// Store exposes the reactive state store for subscription.
func (rl *AsyncRateLimiter[T, R]) Store() *store.Store[AsyncState[T, R]] { return rl.store }

// State returns the current snapshot.
func (rl *AsyncRateLimiter[T, R]) State() AsyncState[T, R] { return rl.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (rl *AsyncRateLimiter[T, R]) Snapshot() AsyncState[T, R] { return rl.store.State() }

// MaybeExecute admits and awaits target iff the window has a free slot.
// A rejected call returns (zero, false, nil) immediately, never reaching
// the target.
func (rl *AsyncRateLimiter[T, R]) MaybeExecute(ctx context.Context, args T) (R, bool, error) {
	var zero R
	rl.mu.Lock()

	if !rl.opts.enabled() {
		rl.mu.Unlock()
		return zero, false, nil
	}

	limit := rl.opts.Limit.Resolve()
	now := rl.opts.Clock.Now()
	var admitted bool

	switch rl.opts.WindowType {
	case Fixed:
		admitted = rl.admitFixedLocked(now, limit)
	default:
		admitted = rl.admitSlidingLocked(now, limit)
	}

	if !admitted {
		rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
			s.RejectionCount++
			return s
		})
		rl.mu.Unlock()
		if rl.opts.OnReject != nil {
			rl.opts.OnReject(args)
		}
		rl.obs.Metrics.RecordDecision(ctx, rl.meta, pacelog.OutcomeRejected)
		return zero, false, nil
	}

	rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.LastArgs = args
		s.HasLastArgs = true
		s.IsExecuting = true
		s.Status = pacing.StatusExecuting
		return s
	})
	rl.mu.Unlock()

	result, err := rl.target(ctx, args)
	now = rl.opts.Clock.Now()

	rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.IsExecuting = false
		s.LastResult = result
		s.LastError = err
		s.LastExecutionTime = now
		if err == nil {
			s.ExecutionCount++
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		if s.Status != pacing.StatusDisabled {
			s.Status = pacing.StatusSettled
		}
		return s
	})

	if err != nil {
		rl.obs.Metrics.RecordDecision(ctx, rl.meta, pacelog.OutcomeErrored)
		if rl.opts.OnError != nil {
			rl.opts.OnError(args, err)
		}
	} else {
		rl.obs.Metrics.RecordDecision(ctx, rl.meta, pacelog.OutcomeExecuted)
		if rl.opts.OnSuccess != nil {
			rl.opts.OnSuccess(args, result)
		}
	}
	if rl.opts.OnSettled != nil {
		rl.opts.OnSettled(args, result, err)
	}

	if err != nil && rl.opts.throwOnError() {
		return zero, true, err
	}
	if err != nil {
		return zero, false, nil
	}
	return result, true, nil
}

// admitSlidingLocked purges stale timestamps and admits iff under limit.
// Caller holds rl.mu.
func (rl *AsyncRateLimiter[T, R]) admitSlidingLocked(now time.Time, limit int) bool {
	st := rl.store.State()
	cutoff := now.Add(-rl.opts.Window)
	kept := st.ExecutionTimes[:0:0]
	for _, ts := range st.ExecutionTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
			s.ExecutionTimes = kept
			return s
		})
		return false
	}
	kept = append(kept, now)
	rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.ExecutionTimes = kept
		return s
	})
	return true
}

// admitFixedLocked rolls the bucket over on a boundary crossing, then
// admits iff the bucket's count is under limit. Caller holds rl.mu.
func (rl *AsyncRateLimiter[T, R]) admitFixedLocked(now time.Time, limit int) bool {
	st := rl.store.State()
	bucketStart := bucketStartFor(now, rl.opts.Window)

	if !st.BucketStart.Equal(bucketStart) {
		st.BucketStart = bucketStart
		st.BucketCount = 0
	}
	if st.BucketCount >= limit {
		rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
			s.BucketStart = st.BucketStart
			s.BucketCount = st.BucketCount
			return s
		})
		return false
	}
	st.BucketCount++
	rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.BucketStart = st.BucketStart
		s.BucketCount = st.BucketCount
		return s
	})
	return true
}

// GetMsUntilNextWindow returns the delay until at least one slot frees.
func (rl *AsyncRateLimiter[T, R]) GetMsUntilNextWindow() time.Duration {
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

// Reset clears execution timestamps/bucket state. Counters remain.
func (rl *AsyncRateLimiter[T, R]) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.ExecutionTimes = nil
		s.BucketStart = time.Time{}
		s.BucketCount = 0
		return s
	})
}

// GetExecutionCount returns the number of admitted, successfully
// completed calls.
func (rl *AsyncRateLimiter[T, R]) GetExecutionCount() int { return rl.store.State().ExecutionCount }

// GetRejectionCount returns the number of calls rejected for exceeding
// the limit.
func (rl *AsyncRateLimiter[T, R]) GetRejectionCount() int { return rl.store.State().RejectionCount }
