package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacelog"
	"github.com/tanstack/go-pacer/pacing"
	"github.com/tanstack/go-pacer/store"
)

// AsyncTargetFunc processes one accumulated batch.
type AsyncTargetFunc[T, R any] func(ctx context.Context, items []T) (R, error)

// AsyncState is the observable snapshot of an AsyncBatcher.
type AsyncState[T, R any] struct {
	Status              pacing.Status
	Items               []T
	Size                int
	IsPending           bool
	IsExecuting         bool
	ExecutionCount      int
	ErrorCount          int
	SettleCount         int
	TotalItemsProcessed int
	LastResult          R
	LastError           error
}

// AsyncOptions configures an AsyncBatcher.
type AsyncOptions[T, R any] struct {
	MaxSize          pacing.Setting[int]
	Wait             pacing.Setting[time.Duration]
	GetShouldExecute func(items []T) bool
	Enabled          pacing.Setting[bool]

	OnSuccess func(items []T, result R)
	OnError   func(items []T, err error)
	OnSettled func(items []T, result R, err error)
	OnReject  func(item T)

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

func (o AsyncOptions[T, R]) maxSize() int {
	if o.MaxSize.IsZero() {
		return 0
	}
	return o.MaxSize.Resolve()
}

// AsyncBatcher batches target calls with at-most-one batch in flight.
// While a batch executes, new items accumulate into the next batch;
// triggers evaluated during execution arm that next batch to dispatch
// immediately once the gate frees, via the same pacing.Gate(1) discipline
// AsyncDebouncer/AsyncThrottler use for their single-flight guarantee.
type AsyncBatcher[T, R any] struct {
	target AsyncTargetFunc[T, R]
	opts   AsyncOptions[T, R]
	store  *store.Store[AsyncState[T, R]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta
	gate   *pacing.Gate

	mu          sync.Mutex
	items       []T
	firstItemAt time.Time
	timer       clock.Timer
	pendingRun  bool
}

// NewAsync creates an AsyncBatcher around target.
func NewAsync[T, R any](target AsyncTargetFunc[T, R], opts AsyncOptions[T, R]) *AsyncBatcher[T, R] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "async_batcher", Name: opts.Name}

	initial := AsyncState[T, R]{Status: pacing.StatusIdle}
	if opts.InitialState != nil {
		initial = *opts.InitialState
	}

	ab := &AsyncBatcher[T, R]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
		gate:   pacing.NewGate(1),
	}
	if !ab.opts.enabled() {
		ab.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] { s.Status = pacing.StatusDisabled; return s })
	}
	ab.syncStateLocked()
	return ab
}

// Store exposes the reactive state store for subscription.
func (ab *AsyncBatcher[T, R]) Store() *store.Store[AsyncState[T, R]] { return ab.store }

// State returns the current snapshot.
func (ab *AsyncBatcher[T, R]) State() AsyncState[T, R] { return ab.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (ab *AsyncBatcher[T, R]) Snapshot() AsyncState[T, R] { return ab.store.State() }

// AddItem appends item to the buffer, then evaluates the capacity and
// getShouldExecute triggers. Returns false (and fires OnReject) if the
// buffer is already at maxSize.
func (ab *AsyncBatcher[T, R]) AddItem(item T) bool {
	ab.mu.Lock()

	if !ab.opts.enabled() {
		ab.mu.Unlock()
		return false
	}

	max := ab.opts.maxSize()
	if max > 0 && len(ab.items) >= max {
		ab.mu.Unlock()
		if ab.opts.OnReject != nil {
			ab.opts.OnReject(item)
		}
		ab.obs.Metrics.RecordDecision(context.Background(), ab.meta, pacelog.OutcomeRejected)
		return false
	}

	if len(ab.items) == 0 {
		ab.firstItemAt = ab.opts.Clock.Now()
	}
	ab.items = append(ab.items, item)

	sizeHit := max > 0 && len(ab.items) >= max
	predicateHit := ab.opts.GetShouldExecute != nil && ab.opts.GetShouldExecute(ab.items)

	if sizeHit || predicateHit {
		ab.attemptDispatchLocked()
	} else {
		ab.armLocked()
	}
	ab.syncStateLocked()
	ab.mu.Unlock()
	return true
}

func (ab *AsyncBatcher[T, R]) armLocked() {
	if ab.timer != nil || len(ab.items) == 0 {
		return
	}
	wait := ab.opts.Wait.Resolve()
	remaining := wait - ab.opts.Clock.Now().Sub(ab.firstItemAt)
	if remaining < 0 {
		remaining = 0
	}
	ab.timer = ab.opts.Clock.AfterFunc(remaining, ab.onTimerFire)
}

func (ab *AsyncBatcher[T, R]) onTimerFire() {
	ab.mu.Lock()
	ab.timer = nil
	ab.attemptDispatchLocked()
	ab.syncStateLocked()
	ab.mu.Unlock()
}

// attemptDispatchLocked tries to start a batch. If a batch is already in
// flight, marks pendingRun so the current batch's settle picks up the
// buffer that has accumulated since. Caller holds ab.mu.
func (ab *AsyncBatcher[T, R]) attemptDispatchLocked() {
	if !ab.gate.TryAcquire() {
		ab.pendingRun = true
		return
	}
	if ab.timer != nil {
		ab.timer.Stop()
		ab.timer = nil
	}
	batch := ab.items
	ab.items = nil
	ab.firstItemAt = time.Time{}
	go ab.runDispatch(batch)
}

func (ab *AsyncBatcher[T, R]) runDispatch(batch []T) {
	result, err := ab.target(context.Background(), batch)

	ab.mu.Lock()
	ab.gate.Release()
	ab.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.SettleCount++
		s.TotalItemsProcessed += len(batch)
		s.LastResult = result
		s.LastError = err
		if err == nil {
			s.ExecutionCount++
		} else {
			s.ErrorCount++
		}
		return s
	})
	if ab.pendingRun {
		ab.pendingRun = false
		ab.attemptDispatchLocked()
	}
	ab.syncStateLocked()
	ab.mu.Unlock()

	if err != nil {
		ab.obs.Metrics.RecordDecision(context.Background(), ab.meta, pacelog.OutcomeErrored)
		if ab.opts.OnError != nil {
			ab.opts.OnError(batch, err)
		}
	} else {
		ab.obs.Metrics.RecordDecision(context.Background(), ab.meta, pacelog.OutcomeExecuted)
		if ab.opts.OnSuccess != nil {
			ab.opts.OnSuccess(batch, result)
		}
	}
	if ab.opts.OnSettled != nil {
		ab.opts.OnSettled(batch, result, err)
	}
}

// Flush dispatches immediately with whatever is currently buffered,
// bypassing the wait timer. If a batch is already executing, the flush
// is deferred to run as the next batch immediately after settle.
func (ab *AsyncBatcher[T, R]) Flush() {
	ab.mu.Lock()
	ab.attemptDispatchLocked()
	ab.syncStateLocked()
	ab.mu.Unlock()
}

func (ab *AsyncBatcher[T, R]) syncStateLocked() {
	vals := append([]T(nil), ab.items...)
	executing := ab.gate.InUse() > 0
	pending := len(vals) > 0
	ab.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.Items = vals
		s.Size = len(vals)
		s.IsPending = pending
		s.IsExecuting = executing
		if s.Status != pacing.StatusDisabled {
			switch {
			case executing:
				s.Status = pacing.StatusExecuting
			case pending:
				s.Status = pacing.StatusPending
			default:
				s.Status = pacing.StatusIdle
			}
		}
		return s
	})
}

// GetExecutionCount returns the number of successfully completed batches.
func (ab *AsyncBatcher[T, R]) GetExecutionCount() int { return ab.store.State().ExecutionCount }
