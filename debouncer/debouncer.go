// Package debouncer collapses a burst of calls into at most one (or two)
// target invocations per quiescent gap.
//
// Its defaulting style — a Config struct whose zero values are filled in
// the constructor — and its mutex-guarded decision path are grounded in
// jonwraymond/toolops's resilience.Retry/RateLimiter: one struct holds
// both the resolved configuration and the mutable decision state, and
// every public method takes the same lock the timer callback takes.
package debouncer

import (
	"context"
	"sync"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacelog"
	"github.com/tanstack/go-pacer/pacing"
	"github.com/tanstack/go-pacer/store"
)

// TargetFunc is the work a Debouncer paces.
type TargetFunc[T any] func(args T) error

// State is the observable snapshot of a Debouncer.
type State[T any] struct {
	Status            pacing.Status
	ExecutionCount    int
	LastArgs          T
	HasLastArgs       bool
	CanLeadingExecute bool
	IsPending         bool
	LastExecutionTime time.Time
	NextExecutionTime time.Time
}

// Options configures a Debouncer.
type Options[T any] struct {
	// Wait is the quiescent gap required before a trailing execution.
	Wait pacing.Setting[time.Duration]

	// Leading, when true, runs the target on the first call of a burst.
	Leading bool

	// Trailing, when non-nil and false, disables the trailing-edge
	// execution. Defaults to true (nil behaves as true).
	Trailing *bool

	// Enabled gates whether MaybeExecute can arm/fire at all. Defaults to
	// always-true.
	Enabled pacing.Setting[bool]

	// OnExecute fires after every successful target invocation.
	OnExecute func(args T)

	// OnError fires when the target returns a non-nil error, whether from
	// Flush or the trailing timer's own fire path (which has no caller to
	// return the error to).
	OnError func(args T, err error)

	// Clock is the time source. Defaults to clock.Real.
	Clock clock.Clock

	// Observer receives structured logs and metrics. Defaults to a no-op.
	Observer *pacelog.Observer

	// Name distinguishes this instance in logs/metrics.
	Name string

	// InitialState restores a previously captured snapshot. Pending
	// timers are never restored — timing restarts from construction.
	InitialState *State[T]
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

// Debouncer collapses a burst of MaybeExecute calls into at most one
// (leading) plus one (trailing) target invocation per quiescent gap. It
// is safe for concurrent use: every decision is made under a single
// mutex. The target itself runs after that mutex is released, so target
// invocations are not serialized by it.
type Debouncer[T any] struct {
	target TargetFunc[T]
	opts   Options[T]
	store  *store.Store[State[T]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta

	mu          sync.Mutex
	timer       clock.Timer
	trailingDue bool // a dispatch is owed to the NEXT timer fire
}

// New creates a Debouncer around target.
func New[T any](target TargetFunc[T], opts Options[T]) *Debouncer[T] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "debouncer", Name: opts.Name}

	initial := State[T]{Status: pacing.StatusIdle, CanLeadingExecute: true}
	if opts.InitialState != nil {
		initial = *opts.InitialState
		initial.IsPending = false
	}

	d := &Debouncer[T]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
	}
	if !d.opts.enabled() {
		d.store.SetState(func(s State[T]) State[T] { s.Status = pacing.StatusDisabled; return s })
	}
	return d
}

// Store exposes the reactive state store for subscription.
func (d *Debouncer[T]) Store() *store.Store[State[T]] { return d.store }

// State returns the current snapshot.
func (d *Debouncer[T]) State() State[T] { return d.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (d *Debouncer[T]) Snapshot() State[T] { return d.store.State() }

// MaybeExecute records args as the latest call and arms/resets the
// debounce timer per the leading/trailing edge policy. Returns true if
// this call triggered an immediate leading-edge execution.
func (d *Debouncer[T]) MaybeExecute(args T) bool {
	d.mu.Lock()

	if !d.opts.enabled() {
		d.mu.Unlock()
		return false
	}

	leading := d.opts.Leading
	trailing := d.opts.trailing()
	if !leading && !trailing {
		// Both edges disabled: calls are recorded nowhere and nothing fires.
		d.mu.Unlock()
		return false
	}

	wait := d.opts.Wait.Resolve()
	now := d.opts.Clock.Now()

	startOfBurst := !d.store.State().IsPending
	firedLeading := leading && startOfBurst

	if firedLeading {
		// This call was consumed by the leading edge; a trailing fire is
		// owed only if a further call arrives before the timer expires.
		d.trailingDue = false
	} else {
		d.trailingDue = trailing
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.opts.Clock.AfterFunc(wait, d.fire)

	d.store.SetState(func(s State[T]) State[T] {
		s.LastArgs = args
		s.HasLastArgs = true
		s.IsPending = true
		s.CanLeadingExecute = false
		s.NextExecutionTime = now.Add(wait)
		s.Status = pacing.StatusPending
		return s
	})
	d.mu.Unlock()

	if firedLeading {
		d.dispatch(args)
	}
	return firedLeading
}

// fire runs when the quiescent timer expires.
func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	d.timer = nil
	due := d.trailingDue
	d.trailingDue = false
	st := d.store.State()
	args := st.LastArgs
	has := st.HasLastArgs
	enabled := d.opts.enabled()

	d.store.SetState(func(s State[T]) State[T] {
		s.IsPending = false
		s.CanLeadingExecute = true
		if s.Status != pacing.StatusDisabled {
			s.Status = pacing.StatusIdle
		}
		return s
	})
	d.mu.Unlock()

	if due && has && enabled {
		d.dispatch(args)
	}
}

func (d *Debouncer[T]) dispatch(args T) {
	d.store.SetState(func(s State[T]) State[T] { s.Status = pacing.StatusExecuting; return s })

	err := d.target(args)

	d.store.SetState(func(s State[T]) State[T] {
		s.Status = pacing.StatusSettled
		s.LastExecutionTime = d.opts.Clock.Now()
		if err == nil {
			s.ExecutionCount++
		}
		return s
	})

	if err != nil {
		d.obs.Metrics.RecordDecision(context.Background(), d.meta, pacelog.OutcomeErrored)
		if d.opts.OnError != nil {
			d.opts.OnError(args, err)
		}
		return
	}
	d.obs.Metrics.RecordDecision(context.Background(), d.meta, pacelog.OutcomeExecuted)
	if d.opts.OnExecute != nil {
		d.opts.OnExecute(args)
	}
}

// Flush forces an immediate trailing execution if one is pending,
// cancelling the timer. Returns the target's error, if any. A no-op,
// returning nil, when nothing is pending.
func (d *Debouncer[T]) Flush() error {
	d.mu.Lock()
	st := d.store.State()
	if !st.IsPending {
		d.mu.Unlock()
		return nil
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	args := st.LastArgs
	d.trailingDue = false
	d.store.SetState(func(s State[T]) State[T] {
		s.IsPending = false
		s.CanLeadingExecute = true
		return s
	})
	d.mu.Unlock()

	d.store.SetState(func(s State[T]) State[T] { s.Status = pacing.StatusExecuting; return s })
	err := d.target(args)
	d.store.SetState(func(s State[T]) State[T] {
		s.Status = pacing.StatusSettled
		s.LastExecutionTime = d.opts.Clock.Now()
		if err == nil {
			s.ExecutionCount++
		}
		return s
	})
	if err != nil {
		d.obs.Metrics.RecordDecision(context.Background(), d.meta, pacelog.OutcomeErrored)
		if d.opts.OnError != nil {
			d.opts.OnError(args, err)
		}
		return err
	}
	d.obs.Metrics.RecordDecision(context.Background(), d.meta, pacelog.OutcomeExecuted)
	if d.opts.OnExecute != nil {
		d.opts.OnExecute(args)
	}
	return nil
}

// Cancel clears any armed timer and discards the pending call, without
// invoking the target. Calling Cancel twice in a row is equivalent to
// calling it once.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.trailingDue = false
	d.store.SetState(func(s State[T]) State[T] {
		var zero T
		s.LastArgs = zero
		s.HasLastArgs = false
		s.IsPending = false
		s.CanLeadingExecute = true
		if s.Status != pacing.StatusDisabled {
			s.Status = pacing.StatusIdle
		}
		return s
	})
}

// SetOptions merges patch into the current options. Dynamic (Setting)
// fields are re-evaluated at the next decision point, not immediately.
func (d *Debouncer[T]) SetOptions(patch func(Options[T]) Options[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wasEnabled := d.opts.enabled()
	d.opts = patch(d.opts)
	nowEnabled := d.opts.enabled()

	if wasEnabled && !nowEnabled {
		// Disabling cancels a pending trailing fire rather than merely
		// suppressing future arms: status cannot be StatusPending while
		// disabled.
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		d.trailingDue = false
		d.store.SetState(func(s State[T]) State[T] {
			s.IsPending = false
			s.Status = pacing.StatusDisabled
			return s
		})
	} else if !wasEnabled && nowEnabled {
		d.store.SetState(func(s State[T]) State[T] {
			if !s.IsPending {
				s.Status = pacing.StatusIdle
			}
			return s
		})
	}
}

// GetExecutionCount returns the number of completed target invocations.
func (d *Debouncer[T]) GetExecutionCount() int { return d.store.State().ExecutionCount }
