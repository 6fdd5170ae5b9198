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

// AsyncTargetFunc is the work an AsyncDebouncer paces. ctx is cancelled
// if the call is aborted via AsyncDebouncer.Abort.
type AsyncTargetFunc[T, R any] func(ctx context.Context, args T) (R, error)

// AsyncState is the observable snapshot of an AsyncDebouncer.
type AsyncState[T, R any] struct {
	Status            pacing.Status
	ExecutionCount    int // successful completions only
	SettleCount       int // every settle, success or error
	SuccessCount      int
	ErrorCount        int
	IsExecuting       bool
	LastArgs          T
	HasLastArgs       bool
	CanLeadingExecute bool
	IsPending         bool
	LastResult        R
	LastError         error
	LastExecutionTime time.Time
	NextExecutionTime time.Time
}

// AsyncOptions configures an AsyncDebouncer.
type AsyncOptions[T, R any] struct {
	Wait     pacing.Setting[time.Duration]
	Leading  bool
	Trailing *bool
	Enabled  pacing.Setting[bool]

	OnSuccess   func(args T, result R)
	OnError     func(args T, err error)
	OnLastError func(args T, err error)
	OnSettled   func(args T, result R, err error)

	// ThrowOnError controls whether a target error is returned from
	// MaybeExecute. Defaults to true when OnError is nil, false when it
	// is set, matching spec's "true iff no onError is registered" rule.
	ThrowOnError *bool

	Clock        clock.Clock
	Observer     *pacelog.Observer
	Name         string
	InitialState *AsyncState[T, R]
}

func (o AsyncOptions[T, R]) trailing() bool {
	if o.Trailing == nil {
		return true
	}
	return *o.Trailing
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

type asyncResult[R any] struct {
	val R
	err error
	ok  bool
}

// AsyncDebouncer adds promise-and-single-flight semantics to Debouncer:
// at most one target invocation is ever in flight, MaybeExecute blocks
// its caller until the invocation whose scheduling encompasses that
// call settles (or until the call is superseded, or ctx is cancelled),
// and a separate AbortSignal can tear down the in-flight call without
// merely clearing the pending timer.
//
// The gate enforcing the single-flight invariant is pacing.Gate
// (grounded in toolops's resilience.Bulkhead), not
// golang.org/x/sync/singleflight: singleflight collapses concurrent
// callers sharing one key into one call, but here each call can carry
// different args and arrive at a different time, so what must be
// serialized is scheduling, not deduplicated by key.
type AsyncDebouncer[T, R any] struct {
	target AsyncTargetFunc[T, R]
	opts   AsyncOptions[T, R]
	store  *store.Store[AsyncState[T, R]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta
	gate   *pacing.Gate

	mu             sync.Mutex
	timer          clock.Timer
	trailingDue    bool
	dispatchOwed   bool
	waiter         chan asyncResult[R]
	rearmPending   bool
	cancelInFlight context.CancelFunc
}

// NewAsync creates an AsyncDebouncer around target.
func NewAsync[T, R any](target AsyncTargetFunc[T, R], opts AsyncOptions[T, R]) *AsyncDebouncer[T, R] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "async_debouncer", Name: opts.Name}

	initial := AsyncState[T, R]{Status: pacing.StatusIdle, CanLeadingExecute: true}
	if opts.InitialState != nil {
		initial = *opts.InitialState
		initial.IsPending = false
		initial.IsExecuting = false
	}

	d := &AsyncDebouncer[T, R]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
		gate:   pacing.NewGate(1),
	}
	if !d.opts.enabled() {
		d.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] { s.Status = pacing.StatusDisabled; return s })
	}
	return d
}

// Store exposes the reactive state store for subscription.
func (d *AsyncDebouncer[T, R]) Store() *store.Store[AsyncState[T, R]] { return d.store }

// State returns the current snapshot.
func (d *AsyncDebouncer[T, R]) State() AsyncState[T, R] { return d.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (d *AsyncDebouncer[T, R]) Snapshot() AsyncState[T, R] { return d.store.State() }

// MaybeExecute records args as the latest call, arms/resets the
// debounce timer, and blocks until the invocation that consumes this
// call's args settles. A call superseded before any dispatch consumes
// it returns ok=false with a nil error, never the superseding call's
// result. If ctx is cancelled before settlement, MaybeExecute returns
// ctx.Err() without affecting the pending or in-flight invocation.
func (d *AsyncDebouncer[T, R]) MaybeExecute(ctx context.Context, args T) (R, bool, error) {
	var zero R
	d.mu.Lock()

	if !d.opts.enabled() {
		d.mu.Unlock()
		return zero, false, nil
	}

	leading := d.opts.Leading
	trailing := d.opts.trailing()
	if !leading && !trailing {
		d.mu.Unlock()
		return zero, false, nil
	}

	wait := d.opts.Wait.Resolve()
	now := d.opts.Clock.Now()

	startOfBurst := !d.store.State().IsPending
	firedLeading := leading && startOfBurst && d.gate.TryAcquire()

	// The leading dispatch resolves this call's own waitCh, kept purely
	// local: it must never be threaded through d.waiter, or a later call
	// arriving before this dispatch settles would supersede the result
	// this call is itself waiting on instead of only superseding a
	// still-pending trailing wait.
	var waitCh chan asyncResult[R]
	if firedLeading {
		d.trailingDue = false
		waitCh = make(chan asyncResult[R], 1)
	} else {
		d.trailingDue = trailing
		if d.waiter != nil {
			supersede(d.waiter)
		}
		waitCh = make(chan asyncResult[R], 1)
		d.waiter = waitCh
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.opts.Clock.AfterFunc(wait, d.fire)

	d.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.LastArgs = args
		s.HasLastArgs = true
		s.IsPending = true
		s.CanLeadingExecute = false
		s.NextExecutionTime = now.Add(wait)
		if s.Status != pacing.StatusExecuting {
			s.Status = pacing.StatusPending
		}
		return s
	})
	d.mu.Unlock()

	if firedLeading {
		go d.runDispatch(args, waitCh)
	}

	select {
	case res := <-waitCh:
		return res.val, res.ok, res.err
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func supersede[R any](ch chan asyncResult[R]) {
	select {
	case ch <- asyncResult[R]{ok: false}:
	default:
	}
}

// fire runs when the quiescent timer expires.
func (d *AsyncDebouncer[T, R]) fire() {
	d.mu.Lock()
	d.timer = nil
	due := d.trailingDue
	d.trailingDue = false
	if due {
		d.dispatchOwed = true
	}
	d.mu.Unlock()
	// Dispatch on a separate goroutine so the clock callback returns
	// while the target is in flight.
	go d.attemptDispatchPending()
}

// attemptDispatchPending dispatches the pending args if the gate is
// free, or marks rearmPending so the in-flight call's settle retries
// this immediately once it releases the gate: the quiescent wait has
// already elapsed, only the in-flight guarantee is being waited on, so
// no further clock tick is needed.
func (d *AsyncDebouncer[T, R]) attemptDispatchPending() {
	d.mu.Lock()
	st := d.store.State()
	args := st.LastArgs
	has := st.HasLastArgs
	enabled := d.opts.enabled()
	owed := d.dispatchOwed
	waitCh := d.waiter

	if !(owed && has && enabled) {
		d.dispatchOwed = false
		d.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
			s.IsPending = false
			s.CanLeadingExecute = true
			if s.Status != pacing.StatusDisabled && s.Status != pacing.StatusExecuting {
				s.Status = pacing.StatusIdle
			}
			return s
		})
		d.mu.Unlock()
		return
	}

	if !d.gate.TryAcquire() {
		// A prior invocation is still in flight; it will retry this
		// directly once it releases the gate.
		d.rearmPending = true
		d.mu.Unlock()
		return
	}
	d.dispatchOwed = false
	d.waiter = nil
	d.mu.Unlock()

	d.runDispatch(args, waitCh)
}

// runDispatch runs target while already (or newly) holding the gate,
// delivers the result to waitCh, and, if fire() found the gate busy while
// this call was executing, dispatches the pending args right after
// releasing the gate.
func (d *AsyncDebouncer[T, R]) runDispatch(args T, waitCh chan asyncResult[R]) {
	d.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	d.cancelInFlight = cancel
	d.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.IsExecuting = true
		s.Status = pacing.StatusExecuting
		return s
	})
	d.mu.Unlock()

	result, err := d.target(ctx, args)
	cancel()

	d.mu.Lock()
	d.cancelInFlight = nil
	d.gate.Release()
	d.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.IsExecuting = false
		s.IsPending = false
		s.CanLeadingExecute = true
		s.LastResult = result
		s.LastError = err
		s.LastExecutionTime = d.opts.Clock.Now()
		s.SettleCount++
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

	rearm := d.rearmPending
	d.rearmPending = false
	d.mu.Unlock()

	if err != nil {
		d.obs.Metrics.RecordDecision(context.Background(), d.meta, pacelog.OutcomeErrored)
		if d.opts.OnError != nil {
			d.opts.OnError(args, err)
		}
		if d.opts.OnLastError != nil {
			d.opts.OnLastError(args, err)
		}
	} else {
		d.obs.Metrics.RecordDecision(context.Background(), d.meta, pacelog.OutcomeExecuted)
		if d.opts.OnSuccess != nil {
			d.opts.OnSuccess(args, result)
		}
	}
	if d.opts.OnSettled != nil {
		d.opts.OnSettled(args, result, err)
	}

	if err != nil && d.opts.throwOnError() {
		waitCh <- asyncResult[R]{err: err, ok: true}
	} else if err != nil {
		waitCh <- asyncResult[R]{ok: false}
	} else {
		waitCh <- asyncResult[R]{val: result, ok: true}
	}

	if rearm {
		d.attemptDispatchPending()
	}
}

// Cancel clears any armed timer and discards the pending call, without
// touching an in-flight invocation.
func (d *AsyncDebouncer[T, R]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.trailingDue = false
	d.rearmPending = false
	if d.waiter != nil {
		supersede(d.waiter)
		d.waiter = nil
	}
	d.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		var zero T
		s.LastArgs = zero
		s.HasLastArgs = false
		s.IsPending = false
		s.CanLeadingExecute = true
		if s.Status != pacing.StatusDisabled && s.Status != pacing.StatusExecuting {
			s.Status = pacing.StatusIdle
		}
		return s
	})
}

// Abort does everything Cancel does and additionally signals the
// in-flight invocation's context, if one is running.
func (d *AsyncDebouncer[T, R]) Abort() {
	d.mu.Lock()
	cancel := d.cancelInFlight
	d.mu.Unlock()
	d.Cancel()
	if cancel != nil {
		cancel()
	}
}

// GetExecutionCount returns the number of successfully completed target
// invocations. See State().SettleCount for every settle regardless of
// outcome.
func (d *AsyncDebouncer[T, R]) GetExecutionCount() int { return d.store.State().ExecutionCount }
