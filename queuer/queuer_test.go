package queuer

import (
	"testing"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacing"
)

func TestQueuerFIFOWaitMaxSizeScenario(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var dispatched []int
	q := New(func(n int) error {
		dispatched = append(dispatched, n)
		return nil
	}, Options[int]{
		MaxSize:      pacing.Static(3),
		Wait:         pacing.Static(100 * time.Millisecond),
		AddItemsTo:   Back,
		GetItemsFrom: Front,
		Clock:        vc,
	})

	if ok := q.AddItem(1); !ok {
		t.Fatal("item 1 should be admitted")
	}
	if ok := q.AddItem(2); !ok {
		t.Fatal("item 2 should be admitted")
	}
	if ok := q.AddItem(3); !ok {
		t.Fatal("item 3 should be admitted")
	}
	if ok := q.AddItem(4); ok {
		t.Fatal("item 4 should be rejected (queue at maxSize)")
	}

	q.Start()
	if want := []int{1}; !equalIntSlices(dispatched, want) {
		t.Fatalf("after Start, dispatched = %v, want %v", dispatched, want)
	}

	vc.Advance(100 * time.Millisecond)
	if want := []int{1, 2}; !equalIntSlices(dispatched, want) {
		t.Fatalf("after t=100, dispatched = %v, want %v", dispatched, want)
	}

	vc.Advance(100 * time.Millisecond)
	if want := []int{1, 2, 3}; !equalIntSlices(dispatched, want) {
		t.Fatalf("after t=200, dispatched = %v, want %v", dispatched, want)
	}

	st := q.State()
	if st.Size != 0 {
		t.Errorf("final Size = %d, want 0", st.Size)
	}
	if st.ExecutionCount != 3 {
		t.Errorf("final ExecutionCount = %d, want 3", st.ExecutionCount)
	}
	if st.RejectionCount != 1 {
		t.Errorf("final RejectionCount = %d, want 1", st.RejectionCount)
	}
	if !st.IsIdle {
		t.Error("final state should be idle")
	}
}

func TestQueuerLIFODirection(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var dispatched []int
	q := New(func(n int) error {
		dispatched = append(dispatched, n)
		return nil
	}, Options[int]{
		Wait:         pacing.Static(10 * time.Millisecond),
		AddItemsTo:   Back,
		GetItemsFrom: Back,
		Clock:        vc,
	})

	q.AddItem(1)
	q.AddItem(2)
	q.AddItem(3)
	q.Start()

	vc.Advance(10 * time.Millisecond)
	vc.Advance(10 * time.Millisecond)

	if want := []int{3, 2, 1}; !equalIntSlices(dispatched, want) {
		t.Errorf("dispatched = %v, want %v (LIFO)", dispatched, want)
	}
}

func TestQueuerPriorityOverridesDirection(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var dispatched []int
	q := New(func(n int) error {
		dispatched = append(dispatched, n)
		return nil
	}, Options[int]{
		Wait:         pacing.Static(10 * time.Millisecond),
		AddItemsTo:   Back,
		GetItemsFrom: Back,
		GetPriority: func(n int) int {
			return n
		},
		Clock: vc,
	})

	q.AddItem(1)
	q.AddItem(5)
	q.AddItem(3)
	q.Start()

	vc.Advance(10 * time.Millisecond)
	vc.Advance(10 * time.Millisecond)

	if want := []int{5, 3, 1}; !equalIntSlices(dispatched, want) {
		t.Errorf("dispatched = %v, want %v (descending priority)", dispatched, want)
	}
}

func TestQueuerExpirationDropsStaleItems(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var dispatched []int
	var expired []int
	q := New(func(n int) error {
		dispatched = append(dispatched, n)
		return nil
	}, Options[int]{
		Wait:               pacing.Static(10 * time.Millisecond),
		AddItemsTo:         Back,
		GetItemsFrom:       Front,
		ExpirationDuration: 50 * time.Millisecond,
		Clock:              vc,
		OnExpire: func(n int) {
			expired = append(expired, n)
		},
	})

	q.AddItem(1)
	vc.Advance(100 * time.Millisecond) // item 1 now stale before it's ever taken
	q.AddItem(2)
	q.Start()

	if want := []int{2}; !equalIntSlices(dispatched, want) {
		t.Errorf("dispatched = %v, want %v", dispatched, want)
	}
	if want := []int{1}; !equalIntSlices(expired, want) {
		t.Errorf("expired = %v, want %v", expired, want)
	}
}

func TestQueuerFlushBypassesWait(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var dispatched []int
	q := New(func(n int) error {
		dispatched = append(dispatched, n)
		return nil
	}, Options[int]{
		Wait:         pacing.Static(time.Hour),
		AddItemsTo:   Back,
		GetItemsFrom: Front,
		Clock:        vc,
	})

	q.AddItem(1)
	q.AddItem(2)
	q.AddItem(3)
	q.Flush(0, Front)

	if want := []int{1, 2, 3}; !equalIntSlices(dispatched, want) {
		t.Errorf("dispatched = %v, want %v", dispatched, want)
	}
	if got := q.State().Size; got != 0 {
		t.Errorf("Size after Flush = %d, want 0", got)
	}
}

func TestQueuerClearKeepsCountersResetDoesNot(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	q := New(func(int) error { return nil }, Options[int]{
		Wait:         pacing.Static(10 * time.Millisecond),
		AddItemsTo:   Back,
		GetItemsFrom: Front,
		Clock:        vc,
	})

	q.AddItem(1)
	q.Start()
	if got := q.State().ExecutionCount; got != 1 {
		t.Fatalf("ExecutionCount = %d, want 1", got)
	}

	q.AddItem(2)
	q.Clear()
	if got := q.State().Size; got != 0 {
		t.Errorf("Size after Clear = %d, want 0", got)
	}
	if got := q.State().ExecutionCount; got != 1 {
		t.Errorf("ExecutionCount after Clear = %d, want 1 (preserved)", got)
	}

	q.Reset()
	if got := q.State().ExecutionCount; got != 0 {
		t.Errorf("ExecutionCount after Reset = %d, want 0", got)
	}
}

func TestQueuerStatusReflectsRunningAndBuffer(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	q := New(func(int) error { return nil }, Options[int]{
		Wait:         pacing.Static(10 * time.Millisecond),
		AddItemsTo:   Back,
		GetItemsFrom: Front,
		Clock:        vc,
	})

	if got := q.State().Status; got != pacing.StatusIdle {
		t.Errorf("initial Status = %v, want idle", got)
	}

	q.AddItem(1)
	q.AddItem(2)
	q.Start()
	if got := q.State().Status; got != pacing.StatusPending {
		t.Errorf("Status with buffered item = %v, want pending", got)
	}

	vc.Advance(10 * time.Millisecond)
	if got := q.State().Status; got != pacing.StatusIdle {
		t.Errorf("final Status = %v, want idle", got)
	}
}

func equalIntSlices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
