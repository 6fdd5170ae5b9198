package pacing

import (
	"context"
	"sync"
)

// Gate is a resizable counting semaphore used to cap the number of
// concurrently in-flight target invocations. It plays the same role as
// jonwraymond/toolops's resilience.Bulkhead (a concurrency-limiting
// gate guarding a target call), but tracks capacity as a plain counter
// under a mutex rather than a fixed-size channel, because a primitive's
// concurrency option may be callback-valued and change between
// acquisitions — a channel's capacity cannot be resized in place.
type Gate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	inUse    int
}

// NewGate creates a Gate with the given initial capacity. A capacity of
// 1 gives the at-most-one-in-flight guarantee AsyncDebouncer and
// AsyncBatcher need; larger capacities back AsyncQueuer's concurrency
// option.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	g := &Gate{capacity: capacity}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		g.cond.Broadcast()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.inUse >= g.capacity {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		g.cond.Wait()
		select {
		case <-done:
			return ctx.Err()
		default:
		}
	}
	g.inUse++
	return nil
}

// TryAcquire acquires a slot without blocking. Returns false if none is
// free.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inUse >= g.capacity {
		return false
	}
	g.inUse++
	return true
}

// Release returns a slot. Must be called exactly once per successful
// Acquire/TryAcquire.
func (g *Gate) Release() {
	g.mu.Lock()
	if g.inUse > 0 {
		g.inUse--
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Resize grows or shrinks capacity. Shrinking below the number of slots
// currently in use takes effect gradually, as holders call Release.
func (g *Gate) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	g.mu.Lock()
	g.capacity = capacity
	g.mu.Unlock()
	g.cond.Broadcast()
}

// InUse reports how many slots are currently held, for introspection.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}
