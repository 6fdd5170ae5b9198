package throttler

import (
	"testing"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacing"
)

func TestThrottlerLeadingAndTrailingScenario(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var dispatches []struct {
		t   time.Duration
		arg int
	}
	th := New(func(n int) error {
		dispatches = append(dispatches, struct {
			t   time.Duration
			arg int
		}{time.Duration(vc.Now().UnixNano()), n})
		return nil
	}, Options[int]{
		Wait:  pacing.Static(100 * time.Millisecond),
		Clock: vc,
	})

	th.MaybeExecute(0)
	vc.Advance(30 * time.Millisecond)
	th.MaybeExecute(1)
	vc.Advance(30 * time.Millisecond)
	th.MaybeExecute(2)
	vc.Advance(30 * time.Millisecond)
	th.MaybeExecute(3)
	vc.Advance(30 * time.Millisecond)
	th.MaybeExecute(4)
	vc.Advance(200 * time.Millisecond)

	if len(dispatches) != 3 {
		t.Fatalf("dispatch count = %d, want 3: %+v", len(dispatches), dispatches)
	}
	wantArgs := []int{0, 3, 4}
	for i, want := range wantArgs {
		if dispatches[i].arg != want {
			t.Errorf("dispatch[%d].arg = %d, want %d", i, dispatches[i].arg, want)
		}
	}
	if got := th.GetExecutionCount(); got != 3 {
		t.Errorf("ExecutionCount = %d, want 3", got)
	}
}

func TestThrottlerLeadingRunsImmediatelyOnOpenWindow(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	th := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:  pacing.Static(100 * time.Millisecond),
		Clock: vc,
	})

	ran := th.MaybeExecute(1)
	if !ran {
		t.Error("MaybeExecute on an open window should run immediately")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestThrottlerTrailingDisabledDropsExtraCalls(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	no := false
	calls := 0
	th := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:     pacing.Static(100 * time.Millisecond),
		Trailing: &no,
		Clock:    vc,
	})

	th.MaybeExecute(1)
	th.MaybeExecute(2)
	vc.Advance(200 * time.Millisecond)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (trailing disabled)", calls)
	}
}

func TestThrottlerFlushFiresPendingImmediately(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	th := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:  pacing.Static(time.Second),
		Clock: vc,
	})

	th.MaybeExecute(1)
	th.MaybeExecute(2)
	th.Flush()

	if calls != 2 {
		t.Errorf("calls = %d, want 2 after Flush", calls)
	}
	if th.State().IsPending {
		t.Error("IsPending = true after Flush")
	}
}

func TestThrottlerCancelDropsPendingTrailingRun(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	th := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:  pacing.Static(100 * time.Millisecond),
		Clock: vc,
	})

	th.MaybeExecute(1)
	th.MaybeExecute(2)
	th.Cancel()
	vc.Advance(200 * time.Millisecond)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (trailing run cancelled)", calls)
	}
}

func TestThrottlerEnabledFalseBlocksExecution(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	th := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:    pacing.Static(100 * time.Millisecond),
		Enabled: pacing.Static(false),
		Clock:   vc,
	})

	th.MaybeExecute(1)
	vc.Advance(time.Second)

	if calls != 0 {
		t.Errorf("calls = %d, want 0 while disabled", calls)
	}
	if got := th.State().Status; got != pacing.StatusDisabled {
		t.Errorf("Status = %v, want disabled", got)
	}
}
