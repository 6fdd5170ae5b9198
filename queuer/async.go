package queuer

import (
	"context"
	"sync"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacelog"
	"github.com/tanstack/go-pacer/pacing"
	"github.com/tanstack/go-pacer/store"
)

// AsyncTargetFunc processes one dequeued item.
type AsyncTargetFunc[T, R any] func(ctx context.Context, item T) (R, error)

// AsyncState is the observable snapshot of an AsyncQueuer.
type AsyncState[T, R any] struct {
	Status              pacing.Status
	Items               []T
	Size                int
	IsEmpty             bool
	IsFull              bool
	IsRunning           bool
	IsIdle              bool
	ActiveItems         int
	ExecutionCount      int
	SuccessCount        int
	ErrorCount          int
	RejectionCount      int
	ExpirationCount     int
	SettleCount         int
	TotalItemsProcessed int
	LastResult          R
	LastError           error
}

// AsyncOptions configures an AsyncQueuer.
type AsyncOptions[T, R any] struct {
	MaxSize      pacing.Setting[int]
	InitialItems []T
	Started      bool
	AddItemsTo   Direction
	GetItemsFrom Direction
	GetPriority  func(item T) int

	GetIsExpired       func(item T, enqueuedAt time.Time) bool
	ExpirationDuration time.Duration

	Wait        pacing.Setting[time.Duration]
	Concurrency pacing.Setting[int]
	Enabled     pacing.Setting[bool]

	OnSuccess func(item T, result R)
	OnError   func(item T, err error)
	OnSettled func(item T, result R, err error)
	OnReject  func(item T)
	OnExpire  func(item T)

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

func (o AsyncOptions[T, R]) concurrency() int {
	if o.Concurrency.IsZero() {
		return 1
	}
	c := o.Concurrency.Resolve()
	if c < 1 {
		c = 1
	}
	return c
}

func (o AsyncOptions[T, R]) isExpired(item T, enqueuedAt, now time.Time) bool {
	if o.GetIsExpired != nil {
		return o.GetIsExpired(item, enqueuedAt)
	}
	if o.ExpirationDuration > 0 {
		return now.Sub(enqueuedAt) >= o.ExpirationDuration
	}
	return false
}

// AsyncQueuer paces dispatch of buffered items to target, up to
// concurrency(t) in flight at once, spaced wait apart between dispatch
// starts. The concurrency gate is a pacing.Gate resized on every pump
// decision (teacher's resilience.Bulkhead is fixed-size; concurrency here
// may be callback-valued and is re-derived each time, per SPEC_FULL §4.6).
type AsyncQueuer[T, R any] struct {
	target AsyncTargetFunc[T, R]
	opts   AsyncOptions[T, R]
	store  *store.Store[AsyncState[T, R]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta
	gate   *pacing.Gate

	mu             sync.Mutex
	items          []entry[T]
	running        bool
	timer          clock.Timer
	lastDispatchAt time.Time
	abortCtx       context.Context
	abortStop      context.CancelFunc
}

// NewAsync creates an AsyncQueuer around target.
func NewAsync[T, R any](target AsyncTargetFunc[T, R], opts AsyncOptions[T, R]) *AsyncQueuer[T, R] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "async_queuer", Name: opts.Name}

	initial := AsyncState[T, R]{Status: pacing.StatusIdle, IsIdle: true}
	if opts.InitialState != nil {
		initial = *opts.InitialState
		initial.ActiveItems = 0
	}

	aq := &AsyncQueuer[T, R]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
		gate:   pacing.NewGate(opts.concurrency()),
	}
	aq.abortCtx, aq.abortStop = context.WithCancel(context.Background())

	now := opts.Clock.Now()
	for _, v := range opts.InitialItems {
		aq.items = append(aq.items, entry[T]{value: v, enqueuedAt: now})
	}
	if !aq.opts.enabled() {
		aq.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] { s.Status = pacing.StatusDisabled; return s })
	}
	aq.syncStateLocked()
	if opts.Started {
		aq.mu.Lock()
		aq.running = true
		aq.syncStateLocked()
		aq.pumpLocked()
		aq.mu.Unlock()
	}
	return aq
}

// Store exposes the reactive state store for subscription.
func (aq *AsyncQueuer[T, R]) Store() *store.Store[AsyncState[T, R]] { return aq.store }

// State returns the current snapshot.
func (aq *AsyncQueuer[T, R]) State() AsyncState[T, R] { return aq.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (aq *AsyncQueuer[T, R]) Snapshot() AsyncState[T, R] { return aq.store.State() }

// GetAbortSignal returns a context canceled when the queuer is stopped,
// which also cancels every in-flight target invocation's ctx.
func (aq *AsyncQueuer[T, R]) GetAbortSignal() context.Context {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.abortCtx
}

// AddItem enqueues value per the configured direction/priority. Returns
// false (and increments RejectionCount) if the queue is at maxSize.
func (aq *AsyncQueuer[T, R]) AddItem(value T) bool {
	aq.mu.Lock()

	if !aq.opts.enabled() {
		aq.mu.Unlock()
		return false
	}

	max := aq.opts.maxSize()
	if max > 0 && len(aq.items) >= max {
		aq.mu.Unlock()
		aq.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] { s.RejectionCount++; return s })
		if aq.opts.OnReject != nil {
			aq.opts.OnReject(value)
		}
		aq.obs.Metrics.RecordDecision(context.Background(), aq.meta, pacelog.OutcomeRejected)
		return false
	}

	e := entry[T]{value: value, enqueuedAt: aq.opts.Clock.Now()}
	if aq.opts.GetPriority != nil {
		e.priority = aq.opts.GetPriority(value)
		aq.insertByPriorityLocked(e)
	} else if aq.opts.AddItemsTo == Front {
		aq.items = append([]entry[T]{e}, aq.items...)
	} else {
		aq.items = append(aq.items, e)
	}

	aq.syncStateLocked()
	aq.pumpLocked()
	aq.mu.Unlock()
	return true
}

// insertByPriorityLocked inserts e before the first existing item with a
// strictly lower priority, preserving insertion order among ties.
func (aq *AsyncQueuer[T, R]) insertByPriorityLocked(e entry[T]) {
	idx := len(aq.items)
	for i, cur := range aq.items {
		if cur.priority < e.priority {
			idx = i
			break
		}
	}
	aq.items = append(aq.items, entry[T]{})
	copy(aq.items[idx+1:], aq.items[idx:])
	aq.items[idx] = e
}

// takeLocked drops expired items from the take side, then pops and
// returns the next item to dispatch.
func (aq *AsyncQueuer[T, R]) takeLocked() (entry[T], bool) {
	now := aq.opts.Clock.Now()
	from := aq.opts.GetItemsFrom
	if aq.opts.GetPriority != nil {
		from = Front
	}

	for len(aq.items) > 0 {
		var head entry[T]
		if from == Front {
			head = aq.items[0]
		} else {
			head = aq.items[len(aq.items)-1]
		}
		if !aq.opts.isExpired(head.value, head.enqueuedAt, now) {
			if from == Front {
				aq.items = aq.items[1:]
			} else {
				aq.items = aq.items[:len(aq.items)-1]
			}
			return head, true
		}
		if from == Front {
			aq.items = aq.items[1:]
		} else {
			aq.items = aq.items[:len(aq.items)-1]
		}
		aq.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] { s.ExpirationCount++; return s })
		if aq.opts.OnExpire != nil {
			item := head.value
			aq.mu.Unlock()
			aq.opts.OnExpire(item)
			aq.mu.Lock()
		}
	}
	return entry[T]{}, false
}

// pumpLocked dispatches as many items as concurrency and wait pacing
// allow, each on its own goroutine. Never blocks: a dispatch whose wait
// hasn't elapsed arms a timer and returns, and one that cannot acquire a
// gate slot yet just returns; the next timer fire or settle calls
// pumpLocked again.
func (aq *AsyncQueuer[T, R]) pumpLocked() {
	for {
		if !aq.running || len(aq.items) == 0 {
			return
		}
		aq.gate.Resize(aq.opts.concurrency())

		wait := aq.opts.Wait.Resolve()
		now := aq.opts.Clock.Now()
		if !aq.lastDispatchAt.IsZero() && wait > 0 {
			if remaining := wait - now.Sub(aq.lastDispatchAt); remaining > 0 {
				if aq.timer == nil {
					aq.timer = aq.opts.Clock.AfterFunc(remaining, aq.onTimerFire)
				}
				return
			}
		}

		if !aq.gate.TryAcquire() {
			return
		}
		item, ok := aq.takeLocked()
		if !ok {
			aq.gate.Release()
			aq.syncStateLocked()
			return
		}
		aq.lastDispatchAt = now
		aq.syncStateLocked()
		go aq.dispatch(item)
	}
}

func (aq *AsyncQueuer[T, R]) onTimerFire() {
	aq.mu.Lock()
	aq.timer = nil
	aq.pumpLocked()
	aq.mu.Unlock()
}

func (aq *AsyncQueuer[T, R]) dispatch(item entry[T]) {
	aq.mu.Lock()
	ctx := aq.abortCtx
	aq.mu.Unlock()

	result, err := aq.target(ctx, item.value)

	aq.mu.Lock()
	aq.gate.Release()
	aq.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.SettleCount++
		s.TotalItemsProcessed++
		s.LastResult = result
		s.LastError = err
		if err == nil {
			s.ExecutionCount++
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		return s
	})
	aq.syncStateLocked()
	aq.pumpLocked()
	aq.mu.Unlock()

	if err != nil {
		aq.obs.Metrics.RecordDecision(context.Background(), aq.meta, pacelog.OutcomeErrored)
		if aq.opts.OnError != nil {
			aq.opts.OnError(item.value, err)
		}
	} else {
		aq.obs.Metrics.RecordDecision(context.Background(), aq.meta, pacelog.OutcomeExecuted)
		if aq.opts.OnSuccess != nil {
			aq.opts.OnSuccess(item.value, result)
		}
	}
	if aq.opts.OnSettled != nil {
		aq.opts.OnSettled(item.value, result, err)
	}
}

// syncStateLocked recomputes derived state fields. Caller holds aq.mu.
func (aq *AsyncQueuer[T, R]) syncStateLocked() {
	vals := make([]T, len(aq.items))
	for i, e := range aq.items {
		vals[i] = e.value
	}
	max := aq.opts.maxSize()
	running := aq.running
	active := aq.gate.InUse()
	idle := len(aq.items) == 0 && active == 0
	aq.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.Items = vals
		s.Size = len(vals)
		s.IsEmpty = len(vals) == 0
		s.IsFull = max > 0 && len(vals) >= max
		s.IsRunning = running
		s.IsIdle = idle
		s.ActiveItems = active
		if s.Status != pacing.StatusDisabled {
			switch {
			case active > 0:
				s.Status = pacing.StatusExecuting
			case !running || idle:
				s.Status = pacing.StatusIdle
			default:
				s.Status = pacing.StatusPending
			}
		}
		return s
	})
}

// Start begins (or resumes) the pacing loop.
func (aq *AsyncQueuer[T, R]) Start() {
	aq.mu.Lock()
	aq.running = true
	aq.syncStateLocked()
	aq.pumpLocked()
	aq.mu.Unlock()
}

// Stop halts the pacing loop and cancels every in-flight target
// invocation's context. Buffered items and counters are untouched.
func (aq *AsyncQueuer[T, R]) Stop() {
	aq.mu.Lock()
	aq.running = false
	if aq.timer != nil {
		aq.timer.Stop()
		aq.timer = nil
	}
	aq.abortStop()
	aq.abortCtx, aq.abortStop = context.WithCancel(context.Background())
	aq.syncStateLocked()
	aq.mu.Unlock()
}

// Clear drops all buffered items, keeping counters. In-flight dispatches
// are unaffected.
func (aq *AsyncQueuer[T, R]) Clear() {
	aq.mu.Lock()
	aq.items = nil
	if aq.timer != nil {
		aq.timer.Stop()
		aq.timer = nil
	}
	aq.syncStateLocked()
	aq.mu.Unlock()
}

// Reset drops items and resets every counter.
func (aq *AsyncQueuer[T, R]) Reset() {
	aq.mu.Lock()
	aq.items = nil
	if aq.timer != nil {
		aq.timer.Stop()
		aq.timer = nil
	}
	aq.store.SetState(func(s AsyncState[T, R]) AsyncState[T, R] {
		s.ExecutionCount = 0
		s.SuccessCount = 0
		s.ErrorCount = 0
		s.RejectionCount = 0
		s.ExpirationCount = 0
		s.SettleCount = 0
		s.TotalItemsProcessed = 0
		return s
	})
	aq.syncStateLocked()
	aq.mu.Unlock()
}

// PeekNextItem returns the item that would be taken next, without
// removing it.
func (aq *AsyncQueuer[T, R]) PeekNextItem() (T, bool) {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	var zero T
	if len(aq.items) == 0 {
		return zero, false
	}
	from := aq.opts.GetItemsFrom
	if aq.opts.GetPriority != nil {
		from = Front
	}
	if from == Front {
		return aq.items[0].value, true
	}
	return aq.items[len(aq.items)-1].value, true
}

// GetNextItem removes and returns the item that would be taken next,
// without invoking target.
func (aq *AsyncQueuer[T, R]) GetNextItem(direction Direction) (T, bool) {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	var zero T
	if len(aq.items) == 0 {
		return zero, false
	}
	var e entry[T]
	if direction == Front {
		e = aq.items[0]
		aq.items = aq.items[1:]
	} else {
		e = aq.items[len(aq.items)-1]
		aq.items = aq.items[:len(aq.items)-1]
	}
	aq.syncStateLocked()
	return e.value, true
}

// GetExecutionCount returns the number of successfully completed
// dispatches.
func (aq *AsyncQueuer[T, R]) GetExecutionCount() int { return aq.store.State().ExecutionCount }

// GetActiveCount returns the number of currently in-flight dispatches.
func (aq *AsyncQueuer[T, R]) GetActiveCount() int { return aq.gate.InUse() }
