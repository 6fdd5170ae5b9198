// Package batcher accumulates items and dispatches them together to a
// target function once any of three independent triggers fires: the
// buffer reaches maxSize, wait ms have elapsed since the first buffered
// item, or getShouldExecute(items) returns true at the moment of an
// addition.
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

// TargetFunc processes one accumulated batch.
type TargetFunc[T any] func(items []T) error

// State is the observable snapshot of a Batcher.
type State[T any] struct {
	Status              pacing.Status
	Items               []T
	Size                int
	IsPending           bool
	ExecutionCount      int
	TotalItemsProcessed int
	LastResult          error
}

// Options configures a Batcher.
type Options[T any] struct {
	MaxSize          pacing.Setting[int]
	Wait             pacing.Setting[time.Duration]
	GetShouldExecute func(items []T) bool
	Enabled          pacing.Setting[bool]

	OnExecute func(items []T, err error)
	OnReject  func(item T)

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
		return 0
	}
	return o.MaxSize.Resolve()
}

// Batcher batches target calls.
type Batcher[T any] struct {
	target TargetFunc[T]
	opts   Options[T]
	store  *store.Store[State[T]]
	obs    *pacelog.Observer
	log    pacelog.Logger
	meta   pacelog.PrimitiveMeta

	mu          sync.Mutex
	items       []T
	firstItemAt time.Time
	timer       clock.Timer
}

// New creates a Batcher around target.
func New[T any](target TargetFunc[T], opts Options[T]) *Batcher[T] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	obs := pacelog.Resolve(opts.Observer)
	meta := pacelog.PrimitiveMeta{Kind: "batcher", Name: opts.Name}

	initial := State[T]{Status: pacing.StatusIdle}
	if opts.InitialState != nil {
		initial = *opts.InitialState
	}

	b := &Batcher[T]{
		target: target,
		opts:   opts,
		store:  store.New(initial),
		obs:    obs,
		log:    obs.Logger.WithPrimitive(meta),
		meta:   meta,
	}
	if !b.opts.enabled() {
		b.store.SetState(func(s State[T]) State[T] { s.Status = pacing.StatusDisabled; return s })
	}
	b.syncStateLocked()
	return b
}

// Store exposes the reactive state store for subscription.
func (b *Batcher[T]) Store() *store.Store[State[T]] { return b.store }

// State returns the current snapshot.
func (b *Batcher[T]) State() State[T] { return b.store.State() }

// Snapshot satisfies pacing's Snapshotter capability.
func (b *Batcher[T]) Snapshot() State[T] { return b.store.State() }

// AddItem appends item to the buffer, then evaluates the capacity and
// getShouldExecute triggers. Returns false (and fires OnReject) if the
// buffer is already at maxSize.
func (b *Batcher[T]) AddItem(item T) bool {
	b.mu.Lock()

	if !b.opts.enabled() {
		b.mu.Unlock()
		return false
	}

	max := b.opts.maxSize()
	if max > 0 && len(b.items) >= max {
		b.mu.Unlock()
		if b.opts.OnReject != nil {
			b.opts.OnReject(item)
		}
		b.obs.Metrics.RecordDecision(context.Background(), b.meta, pacelog.OutcomeRejected)
		return false
	}

	if len(b.items) == 0 {
		b.firstItemAt = b.opts.Clock.Now()
	}
	b.items = append(b.items, item)

	sizeHit := max > 0 && len(b.items) >= max
	predicateHit := b.opts.GetShouldExecute != nil && b.opts.GetShouldExecute(b.items)

	if sizeHit || predicateHit {
		b.dispatchLocked()
		b.mu.Unlock()
		return true
	}

	b.armLocked()
	b.syncStateLocked()
	b.mu.Unlock()
	return true
}

// armLocked schedules a wait timer from the first buffered item's
// arrival, if one isn't already pending.
func (b *Batcher[T]) armLocked() {
	if b.timer != nil || len(b.items) == 0 {
		return
	}
	wait := b.opts.Wait.Resolve()
	remaining := wait - b.opts.Clock.Now().Sub(b.firstItemAt)
	if remaining < 0 {
		remaining = 0
	}
	b.timer = b.opts.Clock.AfterFunc(remaining, b.onTimerFire)
}

func (b *Batcher[T]) onTimerFire() {
	b.mu.Lock()
	b.timer = nil
	if len(b.items) > 0 {
		b.dispatchLocked()
	}
	b.mu.Unlock()
}

// dispatchLocked runs target against the current buffer, clears it, and
// records the outcome. Caller holds b.mu; target runs synchronously
// under the lock, matching sync primitives never suspending.
func (b *Batcher[T]) dispatchLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.items
	b.items = nil
	b.firstItemAt = time.Time{}

	err := b.target(batch)

	b.store.SetState(func(s State[T]) State[T] {
		s.ExecutionCount++
		s.TotalItemsProcessed += len(batch)
		s.LastResult = err
		return s
	})
	b.syncStateLocked()

	if err != nil {
		b.obs.Metrics.RecordDecision(context.Background(), b.meta, pacelog.OutcomeErrored)
	} else {
		b.obs.Metrics.RecordDecision(context.Background(), b.meta, pacelog.OutcomeExecuted)
	}
	if b.opts.OnExecute != nil {
		b.opts.OnExecute(batch, err)
	}
}

// Flush dispatches immediately with whatever is currently buffered,
// bypassing the wait timer. Dispatches even if the buffer is empty.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	b.dispatchLocked()
	b.mu.Unlock()
}

func (b *Batcher[T]) syncStateLocked() {
	vals := append([]T(nil), b.items...)
	pending := len(vals) > 0
	b.store.SetState(func(s State[T]) State[T] {
		s.Items = vals
		s.Size = len(vals)
		s.IsPending = pending
		if s.Status != pacing.StatusDisabled {
			if pending {
				s.Status = pacing.StatusPending
			} else {
				s.Status = pacing.StatusIdle
			}
		}
		return s
	})
}

// GetExecutionCount returns the number of dispatched batches.
func (b *Batcher[T]) GetExecutionCount() int { return b.store.State().ExecutionCount }
