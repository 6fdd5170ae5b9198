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

// AsyncTargetFunc is the work an AsyncThrottler paces.
type AsyncTargetFunc[T, R any] func(ctx context.Context, args T) (R, error)

// AsyncState is the observable snapshot of an AsyncThrottler.
type AsyncState[T, R any] struct {
	Status             pacing.Status
	ExecutionCount     int
	SettleCount        int
	SuccessCount       int
	ErrorCount         int
	IsExecuting        bool
	LastArgs           T
	HasLastArgs        bool
	CanLeadingExecute  bool
	CanTrailingExecute bool
	IsPending          bool
	LastResult         R
	LastError          error
	LastExecutionTime  time.Time
	NextExecutionTime  time.Time
}

// AsyncOptions configures an AsyncThrottler.
type AsyncOptions[T, R any] struct {
	Wait     pacing.Setting[time.Duration]
	Leading  *bool
	Trailing *bool
	Enabled  pacing.Setting[bool]

	OnSuccess   func(args T, result R)
	OnError     func(args T, err error)
	OnLastError func(args T, err error)
	OnSettled   func(args T, result R, err error)

	ThrowOnError *bool

	Clock        clock.Clock
	Observer     *pacelog.Observer
	Name         string
	InitialState *AsyncState[T, R]
}

func (o AsyncOptions[T, R]) leading() bool {
	if o.Leading == nil {
		return true
	}
	return *o.Leading
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

// AsyncThrottler adds promise and at-most-one-in-flight semantics to
// Throttler. The in-flight guarantee uses pacing.Gate(1), same as
// AsyncDebouncer; a call that would otherwise schedule a trailing run
// while one is still executing is delayed until the running one
// settles, per spec's "delays the next schedule until the in-flight one
// settles".
type AsyncThrottler[T, R any] struct {
	target AsyncTargetFunc[T, R]
	opts   AsyncOptions[T, R]
	store  *store.Store[AsyncState[T, R]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta
	gate   *pacing.Gate

	mu             sync.Mutex
	timer          clock.Timer
	waiter         chan asyncResult[R]
	rearmPending   bool
	cancelInFlight context.CancelFunc
}

// NewAsync creates an AsyncThrottler around target.
func NewAsync[T, R any](target AsyncTargetFunc[T, R], opts AsyncOptions[T, R]) *AsyncThrottler[T, R] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "async_throttler", Name: opts.Name}

	initial := AsyncState[T, R]{Status: pacing.StatusIdle, CanLeadingExecute: true}
	if opts.InitialState != nil {
		initial = *opts.InitialState
		initial.IsPending = false
		initial.IsExecuting = false
	}

	th := &AsyncThrottler[T, R]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
		gate:   pacing.NewGate(1),
	}
	if !th.opts.enabled() {
		th.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] { s.Status = pacing.StatusDisabled; return s })
	}
	return th
}

// Store exposes the reactive state store for subscription.
func (th *AsyncThrottler[T, R]) Store() *store.Store[AsyncState[T, R]] { return th.store }

// State returns the current snapshot.
func (th *AsyncThrottler[T, R]) State() AsyncState[T, R] { return th.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (th *AsyncThrottler[T, R]) Snapshot() AsyncState[T, R] { return th.store.State() }

// MaybeExecute runs target immediately if the window is open and the
// gate is free, otherwise schedules a trailing run and blocks until it
// settles. A call superseded by a later one before its trailing run is
// dispatched returns ok=false with a nil error.
func (th *AsyncThrottler[T, R]) MaybeExecute(ctx context.Context, args T) (R, bool, error) {
	var zero R
	th.mu.Lock()

	if !th.opts.enabled() {
		th.mu.Unlock()
		return zero, false, nil
	}

	wait := th.opts.Wait.Resolve()
	now := th.opts.Clock.Now()
	st := th.store.State()

	windowOpen := st.LastExecutionTime.IsZero() || now.Sub(st.LastExecutionTime) >= wait
	canLead := th.opts.leading() && windowOpen && th.gate.TryAcquire()

	if canLead {
		waitCh := make(chan asyncResult[R], 1)
		if th.timer != nil {
			th.timer.Stop()
			th.timer = nil
		}
		th.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
			s.LastArgs = args
			s.HasLastArgs = true
			s.IsPending = false
			s.CanLeadingExecute = false
			return s
		})
		th.mu.Unlock()
		go th.runDispatch(args, waitCh)
		select {
		case res := <-waitCh:
			return res.val, res.ok, res.err
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}

	if !th.opts.trailing() {
		th.mu.Unlock()
		return zero, false, nil
	}

	if th.waiter != nil {
		supersede(th.waiter)
	}
	waitCh := make(chan asyncResult[R], 1)
	th.waiter = waitCh

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

	th.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.LastArgs = args
		s.HasLastArgs = true
		s.IsPending = true
		s.CanTrailingExecute = true
		s.NextExecutionTime = now.Add(remaining)
		if s.Status != pacing.StatusExecuting {
			s.Status = pacing.StatusPending
		}
		return s
	})
	th.mu.Unlock()

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

func (th *AsyncThrottler[T, R]) fire() {
	th.mu.Lock()
	th.timer = nil
	th.mu.Unlock()
	th.attemptDispatchPending()
}

// attemptDispatchPending dispatches the current pending args if the gate
// is free, or marks rearmPending so the in-flight call's settle retries
// this immediately (not via another clock wait: the window has already
// elapsed, only the in-flight guarantee is what's being waited on).
func (th *AsyncThrottler[T, R]) attemptDispatchPending() {
	th.mu.Lock()
	st := th.store.State()
	args := st.LastArgs
	has := st.HasLastArgs
	enabled := th.opts.enabled()
	waitCh := th.waiter

	if !(has && enabled) {
		th.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
			s.IsPending = false
			s.CanTrailingExecute = false
			if s.Status != pacing.StatusDisabled && s.Status != pacing.StatusExecuting {
				s.Status = pacing.StatusIdle
			}
			return s
		})
		th.mu.Unlock()
		return
	}

	if !th.gate.TryAcquire() {
		th.rearmPending = true
		th.mu.Unlock()
		return
	}
	th.waiter = nil
	th.mu.Unlock()
	th.runDispatch(args, waitCh)
}

func (th *AsyncThrottler[T, R]) runDispatch(args T, waitCh chan asyncResult[R]) {
	th.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	th.cancelInFlight = cancel
	th.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.IsExecuting = true
		s.IsPending = false
		s.CanTrailingExecute = false
		s.Status = pacing.StatusExecuting
		return s
	})
	th.mu.Unlock()

	result, err := th.target(ctx, args)
	cancel()

	now := th.opts.Clock.Now()
	th.mu.Lock()
	th.cancelInFlight = nil
	th.gate.Release()
	th.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.IsExecuting = false
		s.CanLeadingExecute = true
		s.LastResult = result
		s.LastError = err
		s.LastExecutionTime = now
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
	rearm := th.rearmPending
	th.rearmPending = false
	th.mu.Unlock()

	if err != nil {
		th.obs.Metrics.RecordDecision(context.Background(), th.meta, pacelog.OutcomeErrored)
		if th.opts.OnError != nil {
			th.opts.OnError(args, err)
		}
		if th.opts.OnLastError != nil {
			th.opts.OnLastError(args, err)
		}
	} else {
		th.obs.Metrics.RecordDecision(context.Background(), th.meta, pacelog.OutcomeExecuted)
		if th.opts.OnSuccess != nil {
			th.opts.OnSuccess(args, result)
		}
	}
	if th.opts.OnSettled != nil {
		th.opts.OnSettled(args, result, err)
	}

	if waitCh != nil {
		if err != nil && th.opts.throwOnError() {
			waitCh <- asyncResult[R]{err: err, ok: true}
		} else if err != nil {
			waitCh <- asyncResult[R]{ok: false}
		} else {
			waitCh <- asyncResult[R]{val: result, ok: true}
		}
	}

	if rearm {
		th.attemptDispatchPending()
	}
}

// Cancel drops the trailing timer and the pending args, without
// touching an in-flight invocation.
func (th *AsyncThrottler[T, R]) Cancel() {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.timer != nil {
		th.timer.Stop()
		th.timer = nil
	}
	th.rearmPending = false
	if th.waiter != nil {
		supersede(th.waiter)
		th.waiter = nil
	}
	th.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		var zero T
		s.LastArgs = zero
		s.HasLastArgs = false
		s.IsPending = false
		s.CanTrailingExecute = false
		if s.Status != pacing.StatusDisabled && s.Status != pacing.StatusExecuting {
			s.Status = pacing.StatusIdle
		}
		return s
	})
}

// Abort does everything Cancel does and additionally signals the
// in-flight invocation's context, if one is running.
func (th *AsyncThrottler[T, R]) Abort() {
	th.mu.Lock()
	cancel := th.cancelInFlight
	th.mu.Unlock()
	th.Cancel()
	if cancel != nil {
		cancel()
	}
}

// GetExecutionCount returns the number of successful completions.
func (th *AsyncThrottler[T, R]) GetExecutionCount() int { return th.store.State().ExecutionCount }
