// Package throttler enforces a minimum spacing between target runs,
// running at most once per wait interval on the leading edge and
// optionally once more on the trailing edge to deliver the latest args.
//
// Its defaulting style and mutex-guarded decision path mirror
// debouncer, which in turn is grounded in jonwraymond/toolops's
// resilience.Retry/RateLimiter shape.
package throttler

import (
	"context"
	"sync"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacelog"
	"github.com/tanstack/go-pacer/pacing"
	"github.com/tanstack/go-pacer/store"
)

// TargetFunc is the work a Throttler paces.
type TargetFunc[T any] func(args T) error

// State is the observable snapshot of a Throttler.
type State[T any] struct {
	Status             pacing.Status
	ExecutionCount     int
	LastArgs           T
	HasLastArgs        bool
	CanLeadingExecute  bool
	CanTrailingExecute bool
	IsPending          bool
	LastExecutionTime  time.Time
	NextExecutionTime  time.Time
}

// Options configures a Throttler.
type Options[T any] struct {
	// Wait is the minimum spacing enforced between target runs.
	Wait pacing.Setting[time.Duration]

	// Leading, default true, runs the target immediately when the
	// window is open. Set false to suppress the leading-edge run.
	Leading *bool

	// Trailing, default true, schedules one run with the latest args at
	// the end of a window that absorbed calls beyond the leading edge.
	Trailing *bool

	Enabled pacing.Setting[bool]

	OnExecute func(args T)
	OnError   func(args T, err error)

	Clock        clock.Clock
	Observer     *pacelog.Observer
	Name         string
	InitialState *State[T]
}

func (o Options[T]) leading() bool {
	if o.Leading == nil {
		return true
	}
	return *o.Leading
}

func (o Options[T]) trailing() bool {
	if o.Trailing == nil {
		return true
	}
	return *o.Trailing
}

func (o Options[T]) enabled() bool {
	if o.Enabled.IsZero() {
		return true
	}
	return o.Enabled.Resolve()
}

// Throttler enforces a minimum spacing between target runs. Safe for
// concurrent use: every decision is made under a single mutex.
type Throttler[T any] struct {
	target TargetFunc[T]
	opts   Options[T]
	store  *store.Store[State[T]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta

	mu    sync.Mutex
	timer clock.Timer
}

// New creates a Throttler around target.
func New[T any](target TargetFunc[T], opts Options[T]) *Throttler[T] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "throttler", Name: opts.Name}

	initial := State[T]{Status: pacing.StatusIdle, CanLeadingExecute: true, CanTrailingExecute: true}
	if opts.InitialState != nil {
		initial = *opts.InitialState
		initial.IsPending = false
	}

	th := &Throttler[T]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
	}
	if !th.opts.enabled() {
		th.store.SetState(func(s State[T]) State[T] { s.Status = pacing.StatusDisabled; return s })
	}
	return th
}

// Store exposes the reactive state store for subscription.
func (th *Throttler[T]) Store() *store.Store[State[T]] { return th.store }

// State returns the current snapshot.
func (th *Throttler[T]) State() State[T] { return th.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (th *Throttler[T]) Snapshot() State[T] { return th.store.State() }

// MaybeExecute runs target immediately if the window is open, otherwise
// (when trailing is enabled) records args and schedules a single run at
// window close. Returns true if this call ran the target immediately.
func (th *Throttler[T]) MaybeExecute(args T) bool {
	th.mu.Lock()

	if !th.opts.enabled() {
		th.mu.Unlock()
		return false
	}

	wait := th.opts.Wait.Resolve()
	now := th.opts.Clock.Now()
	st := th.store.State()

	windowOpen := st.LastExecutionTime.IsZero() || now.Sub(st.LastExecutionTime) >= wait
	canLead := th.opts.leading() && windowOpen

	if canLead {
		th.store.SetState(func(s State[T]) State[T] {
			s.LastArgs = args
			s.HasLastArgs = true
			s.CanLeadingExecute = false
			s.IsPending = false
			s.Status = pacing.StatusExecuting
			return s
		})
		if th.timer != nil {
			th.timer.Stop()
			th.timer = nil
		}
		th.mu.Unlock()
		th.dispatch(args, now)
		return true
	}

	if !th.opts.trailing() {
		th.mu.Unlock()
		return false
	}

	remaining := wait
	if !st.LastExecutionTime.IsZero() {
		remaining = wait - now.Sub(st.LastExecutionTime)
		if remaining < 0 {
			remaining = 0
		}
	}

	if th.timer != nil {
		th.timer.Stop()
	}
	th.timer = th.opts.Clock.AfterFunc(remaining, th.fire)

	th.store.SetState(func(s State[T]) State[T] {
		s.LastArgs = args
		s.HasLastArgs = true
		s.IsPending = true
		s.CanTrailingExecute = true
		s.NextExecutionTime = now.Add(remaining)
		s.Status = pacing.StatusPending
		return s
	})
	th.mu.Unlock()
	return false
}

func (th *Throttler[T]) fire() {
	th.mu.Lock()
	th.timer = nil
	st := th.store.State()
	args := st.LastArgs
	has := st.HasLastArgs
	enabled := th.opts.enabled()

	th.store.SetState(func(s State[T]) State[T] {
		s.IsPending = false
		s.CanTrailingExecute = false
		if s.Status != pacing.StatusDisabled {
			s.Status = pacing.StatusExecuting
		}
		return s
	})
	th.mu.Unlock()

	if has && enabled {
		th.dispatch(args, th.opts.Clock.Now())
	} else {
		th.store.SetState(func(s State[T]) State[T] {
			if s.Status != pacing.StatusDisabled {
				s.Status = pacing.StatusIdle
			}
			return s
		})
	}
}

func (th *Throttler[T]) dispatch(args T, now time.Time) {
	err := th.target(args)

	th.store.SetState(func(s State[T]) State[T] {
		s.LastExecutionTime = now
		s.CanLeadingExecute = true
		s.Status = pacing.StatusSettled
		if err == nil {
			s.ExecutionCount++
		}
		return s
	})

	if err != nil {
		th.obs.Metrics.RecordDecision(context.Background(), th.meta, pacelog.OutcomeErrored)
		if th.opts.OnError != nil {
			th.opts.OnError(args, err)
		}
		return
	}
	th.obs.Metrics.RecordDecision(context.Background(), th.meta, pacelog.OutcomeExecuted)
	if th.opts.OnExecute != nil {
		th.opts.OnExecute(args)
	}
}

// Flush forces the trailing run now, if one is pending, cancelling its
// timer. No-op if nothing is pending.
func (th *Throttler[T]) Flush() {
	th.mu.Lock()
	st := th.store.State()
	if !st.IsPending {
		th.mu.Unlock()
		return
	}
	if th.timer != nil {
		th.timer.Stop()
		th.timer = nil
	}
	args := st.LastArgs
	th.store.SetState(func(s State[T]) State[T] {
		s.IsPending = false
		s.CanTrailingExecute = false
		s.Status = pacing.StatusExecuting
		return s
	})
	th.mu.Unlock()

	th.dispatch(args, th.opts.Clock.Now())
}

// Cancel drops the trailing timer and the pending args, without running
// the target.
func (th *Throttler[T]) Cancel() {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.timer != nil {
		th.timer.Stop()
		th.timer = nil
	}
	th.store.SetState(func(s State[T]) State[T] {
		var zero T
		s.LastArgs = zero
		s.HasLastArgs = false
		s.IsPending = false
		s.CanTrailingExecute = false
		if s.Status != pacing.StatusDisabled {
			s.Status = pacing.StatusIdle
		}
		return s
	})
}

// SetOptions merges patch into the current options. Disabling cancels a
// pending trailing fire, mirroring debouncer's enabled transition rule.
func (th *Throttler[T]) SetOptions(patch func(Options[T]) Options[T]) {
	th.mu.Lock()
	defer th.mu.Unlock()
	wasEnabled := th.opts.enabled()
	th.opts = patch(th.opts)
	nowEnabled := th.opts.enabled()

	if wasEnabled && !nowEnabled {
		if th.timer != nil {
			th.timer.Stop()
			th.timer = nil
		}
		th.store.SetState(func(s State[T]) State[T] {
			s.IsPending = false
			s.Status = pacing.StatusDisabled
			return s
		})
	} else if !wasEnabled && nowEnabled {
		th.store.SetState(func(s State[T]) State[T] {
			if !s.IsPending {
				s.Status = pacing.StatusIdle
			}
			return s
		})
	}
}

// GetExecutionCount returns the number of completed target invocations.
func (th *Throttler[T]) GetExecutionCount() int { return th.store.State().ExecutionCount }
