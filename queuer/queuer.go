// Package queuer implements an ordered buffer with a pacing loop: items
// are appended by callers and drained one at a time (AsyncQueuer: up to
// `concurrency` at a time) by a target function, spaced `wait` apart.
//
// Direction/priority/expiration/capacity mirror a deque with an optional
// priority override; expiration follows cache.MemoryCache's lazy
// delete-on-read shape, dropping stale items only when they are about to
// be taken rather than via a background sweep.
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

// Direction selects which end of the queue an operation targets.
type Direction int

const (
	Front Direction = iota
	Back
)

// TargetFunc processes one dequeued item.
type TargetFunc[T any] func(item T) error

// BatchFunc processes every buffered item at once, via FlushAsBatch.
type BatchFunc[T any] func(items []T) error

type entry[T any] struct {
	value      T
	enqueuedAt time.Time
	priority   int
}

// State is the observable snapshot of a Queuer.
type State[T any] struct {
	Status              pacing.Status
	Items               []T
	Size                int
	IsEmpty             bool
	IsFull              bool
	IsRunning           bool
	IsIdle              bool
	ExecutionCount      int
	SuccessCount        int
	ErrorCount          int
	RejectionCount      int
	ExpirationCount     int
	SettleCount         int
	TotalItemsProcessed int
}

// Options configures a Queuer.
type Options[T any] struct {
	MaxSize      pacing.Setting[int]
	InitialItems []T
	Started      bool
	AddItemsTo   Direction
	GetItemsFrom Direction
	GetPriority  func(item T) int

	GetIsExpired       func(item T, enqueuedAt time.Time) bool
	ExpirationDuration time.Duration

	Wait    pacing.Setting[time.Duration]
	Enabled pacing.Setting[bool]

	OnSuccess func(item T)
	OnError   func(item T, err error)
	OnSettled func(item T, err error)
	OnReject  func(item T)
	OnExpire  func(item T)

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

func (o Options[T]) maxSize() int {
	if o.MaxSize.IsZero() {
		return 0 // 0 means unbounded
	}
	return o.MaxSize.Resolve()
}

func (o Options[T]) isExpired(item T, enqueuedAt time.Time, now time.Time) bool {
	if o.GetIsExpired != nil {
		return o.GetIsExpired(item, enqueuedAt)
	}
	if o.ExpirationDuration > 0 {
		return now.Sub(enqueuedAt) >= o.ExpirationDuration
	}
	return false
}

// Queuer paces dispatch of buffered items to target, one at a time,
// wait apart. Safe for concurrent use.
type Queuer[T any] struct {
	target TargetFunc[T]
	opts   Options[T]
	store  *store.Store[State[T]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta

	mu             sync.Mutex
	items          []entry[T]
	running        bool
	timer          clock.Timer
	lastDispatchAt time.Time
	abortCtx       context.Context
	abortStop      context.CancelFunc
}

// New creates a Queuer around target. If opts.Started, the pacing loop
// begins running immediately with any InitialItems supplied.
func New[T any](target TargetFunc[T], opts Options[T]) *Queuer[T] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "queuer", Name: opts.Name}

	initial := State[T]{Status: pacing.StatusIdle, IsIdle: true}
	if opts.InitialState != nil {
		initial = *opts.InitialState
	}

	q := &Queuer[T]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
	}
	q.abortCtx, q.abortStop = context.WithCancel(context.Background())

	now := opts.Clock.Now()
	for _, v := range opts.InitialItems {
		q.items = append(q.items, entry[T]{value: v, enqueuedAt: now})
	}
	if !q.opts.enabled() {
		q.store.SetState(func(s State[T]) State[T] { s.Status = pacing.StatusDisabled; return s })
	}
	q.syncStateLocked()
	if opts.Started {
		q.mu.Lock()
		q.running = true
		q.armLocked()
		q.mu.Unlock()
	}
	return q
}

// Store exposes the reactive state store for subscription.
func (q *Queuer[T]) Store() *store.Store[State[T]] { return q.store }

// State returns the current snapshot.
func (q *Queuer[T]) State() State[T] { return q.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (q *Queuer[T]) Snapshot() State[T] { return q.store.State() }

// GetAbortSignal returns a context canceled when the queuer is stopped,
// for target functions that want to observe shutdown. Clear does not
// cancel it.
func (q *Queuer[T]) GetAbortSignal() context.Context {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abortCtx
}

// AddItem enqueues value per the configured direction/priority. Returns
// false (and increments RejectionCount) if the queue is at maxSize.
func (q *Queuer[T]) AddItem(value T) bool {
	q.mu.Lock()

	if !q.opts.enabled() {
		q.mu.Unlock()
		return false
	}

	max := q.opts.maxSize()
	if max > 0 && len(q.items) >= max {
		q.mu.Unlock()
		q.store.SetState(func(s State[T]) State[T] { s.RejectionCount++; return s })
		if q.opts.OnReject != nil {
			q.opts.OnReject(value)
		}
		q.obs.Metrics.RecordDecision(context.Background(), q.meta, pacelog.OutcomeRejected)
		return false
	}

	e := entry[T]{value: value, enqueuedAt: q.opts.Clock.Now()}
	if q.opts.GetPriority != nil {
		e.priority = q.opts.GetPriority(value)
		q.insertByPriorityLocked(e)
	} else if q.opts.AddItemsTo == Front {
		q.items = append([]entry[T]{e}, q.items...)
	} else {
		q.items = append(q.items, e)
	}

	q.syncStateLocked()
	q.armLocked()
	q.mu.Unlock()
	return true
}

// insertByPriorityLocked inserts e before the first existing item with a
// strictly lower priority, preserving insertion order among ties.
// Caller holds q.mu.
func (q *Queuer[T]) insertByPriorityLocked(e entry[T]) {
	idx := len(q.items)
	for i, cur := range q.items {
		if cur.priority < e.priority {
			idx = i
			break
		}
	}
	q.items = append(q.items, entry[T]{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = e
}

// takeLocked drops expired items from the take side, then pops and
// returns the next item to dispatch. Caller holds q.mu.
func (q *Queuer[T]) takeLocked() (entry[T], bool) {
	now := q.opts.Clock.Now()
	from := q.opts.GetItemsFrom
	if q.opts.GetPriority != nil {
		from = Front
	}

	for len(q.items) > 0 {
		var head entry[T]
		if from == Front {
			head = q.items[0]
		} else {
			head = q.items[len(q.items)-1]
		}
		if !q.opts.isExpired(head.value, head.enqueuedAt, now) {
			if from == Front {
				q.items = q.items[1:]
			} else {
				q.items = q.items[:len(q.items)-1]
			}
			return head, true
		}
		if from == Front {
			q.items = q.items[1:]
		} else {
			q.items = q.items[:len(q.items)-1]
		}
		q.store.SetState(func(s State[T]) State[T] { s.ExpirationCount++; return s })
		if q.opts.OnExpire != nil {
			item := head.value
			q.mu.Unlock()
			q.opts.OnExpire(item)
			q.mu.Lock()
		}
	}
	return entry[T]{}, false
}

// armLocked dispatches the next item now if enough of wait has elapsed
// since the last dispatch start, or schedules a timer for the remainder.
// A no-op if not running, empty, or already armed. Caller holds q.mu;
// returns with q.mu held (an immediate dispatch unlocks/re-locks
// internally, same discipline as debouncer/throttler's attemptDispatch).
func (q *Queuer[T]) armLocked() {
	if !q.running || len(q.items) == 0 || q.timer != nil {
		return
	}
	wait := q.opts.Wait.Resolve()
	remaining := time.Duration(0)
	if !q.lastDispatchAt.IsZero() {
		remaining = wait - q.opts.Clock.Now().Sub(q.lastDispatchAt)
	}
	if remaining <= 0 {
		q.mu.Unlock()
		q.runLoop()
		q.mu.Lock()
		return
	}
	q.timer = q.opts.Clock.AfterFunc(remaining, q.runLoop)
}

// runLoop takes one item (if running) and dispatches it, then arms the
// next dispatch (immediately or after the remainder of wait).
func (q *Queuer[T]) runLoop() {
	q.mu.Lock()
	q.timer = nil
	if !q.running {
		q.syncStateLocked()
		q.mu.Unlock()
		return
	}
	item, ok := q.takeLocked()
	if !ok {
		q.syncStateLocked()
		q.mu.Unlock()
		return
	}
	q.lastDispatchAt = q.opts.Clock.Now()
	q.syncStateLocked()
	q.mu.Unlock()

	err := q.target(item.value)

	q.mu.Lock()
	q.store.SetState(func(s State[T]) State[T] {
		s.SettleCount++
		s.TotalItemsProcessed++
		if err == nil {
			s.ExecutionCount++
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		return s
	})
	q.syncStateLocked()
	q.armLocked()
	q.mu.Unlock()

	if err != nil {
		q.obs.Metrics.RecordDecision(context.Background(), q.meta, pacelog.OutcomeErrored)
		if q.opts.OnError != nil {
			q.opts.OnError(item.value, err)
		}
	} else {
		q.obs.Metrics.RecordDecision(context.Background(), q.meta, pacelog.OutcomeExecuted)
		if q.opts.OnSuccess != nil {
			q.opts.OnSuccess(item.value)
		}
	}
	if q.opts.OnSettled != nil {
		q.opts.OnSettled(item.value, err)
	}
}

// syncStateLocked recomputes derived state fields from q.items/q.running.
// Caller holds q.mu.
func (q *Queuer[T]) syncStateLocked() {
	vals := make([]T, len(q.items))
	for i, e := range q.items {
		vals[i] = e.value
	}
	max := q.opts.maxSize()
	running := q.running
	idle := len(q.items) == 0
	q.store.SetState(func(s State[T]) State[T] {
		s.Items = vals
		s.Size = len(vals)
		s.IsEmpty = len(vals) == 0
		s.IsFull = max > 0 && len(vals) >= max
		s.IsRunning = running
		s.IsIdle = idle
		if s.Status != pacing.StatusDisabled {
			switch {
			case !running:
				s.Status = pacing.StatusIdle
			case idle:
				s.Status = pacing.StatusIdle
			default:
				s.Status = pacing.StatusPending
			}
		}
		return s
	})
}

// Start begins (or resumes) the pacing loop.
func (q *Queuer[T]) Start() {
	q.mu.Lock()
	q.running = true
	q.syncStateLocked()
	q.armLocked()
	q.mu.Unlock()
}

// Stop halts the pacing loop; buffered items and counters are untouched,
// and any dispatch already in flight still completes. GetAbortSignal's
// context is canceled.
func (q *Queuer[T]) Stop() {
	q.mu.Lock()
	q.running = false
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.abortStop()
	q.abortCtx, q.abortStop = context.WithCancel(context.Background())
	q.syncStateLocked()
	q.mu.Unlock()
}

// Clear drops all buffered items, keeping counters.
func (q *Queuer[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.syncStateLocked()
	q.mu.Unlock()
}

// Reset drops items and resets every counter.
func (q *Queuer[T]) Reset() {
	q.mu.Lock()
	q.items = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.store.SetState(func(s State[T]) State[T] {
		s.ExecutionCount = 0
		s.SuccessCount = 0
		s.ErrorCount = 0
		s.RejectionCount = 0
		s.ExpirationCount = 0
		s.SettleCount = 0
		s.TotalItemsProcessed = 0
		return s
	})
	q.syncStateLocked()
	q.mu.Unlock()
}

// Flush synchronously drains up to n items (0 means all) from direction,
// bypassing wait. Dispatch errors route through OnError/OnSettled same as
// the pacing loop.
func (q *Queuer[T]) Flush(n int, direction Direction) {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	drained := 0
	var batch []entry[T]
	for len(q.items) > 0 && (n <= 0 || drained < n) {
		var e entry[T]
		if direction == Front {
			e = q.items[0]
			q.items = q.items[1:]
		} else {
			e = q.items[len(q.items)-1]
			q.items = q.items[:len(q.items)-1]
		}
		batch = append(batch, e)
		drained++
	}
	q.syncStateLocked()
	q.mu.Unlock()

	for _, e := range batch {
		err := q.target(e.value)
		q.store.SetState(func(s State[T]) State[T] {
			s.SettleCount++
			s.TotalItemsProcessed++
			if err == nil {
				s.ExecutionCount++
				s.SuccessCount++
			} else {
				s.ErrorCount++
			}
			return s
		})
		if err != nil {
			if q.opts.OnError != nil {
				q.opts.OnError(e.value, err)
			}
		} else if q.opts.OnSuccess != nil {
			q.opts.OnSuccess(e.value)
		}
		if q.opts.OnSettled != nil {
			q.opts.OnSettled(e.value, err)
		}
	}
}

// FlushAsBatch dispatches every buffered item in a single batchFn call
// instead of per item, bypassing wait.
func (q *Queuer[T]) FlushAsBatch(batchFn BatchFunc[T]) error {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	vals := make([]T, len(q.items))
	for i, e := range q.items {
		vals[i] = e.value
	}
	q.items = nil
	q.syncStateLocked()
	q.mu.Unlock()

	err := batchFn(vals)
	q.store.SetState(func(s State[T]) State[T] {
		s.SettleCount++
		s.TotalItemsProcessed += len(vals)
		if err == nil {
			s.ExecutionCount++
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		return s
	})
	return err
}

// PeekNextItem returns the item that would be taken next, without
// removing it.
func (q *Queuer[T]) PeekNextItem() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	from := q.opts.GetItemsFrom
	if q.opts.GetPriority != nil {
		from = Front
	}
	if from == Front {
		return q.items[0].value, true
	}
	return q.items[len(q.items)-1].value, true
}

// GetNextItem removes and returns the item that would be taken next,
// without invoking target.
func (q *Queuer[T]) GetNextItem(direction Direction) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	var e entry[T]
	if direction == Front {
		e = q.items[0]
		q.items = q.items[1:]
	} else {
		e = q.items[len(q.items)-1]
		q.items = q.items[:len(q.items)-1]
	}
	q.syncStateLocked()
	return e.value, true
}

// GetExecutionCount returns the number of successfully completed
// dispatches.
func (q *Queuer[T]) GetExecutionCount() int { return q.store.State().ExecutionCount }
