package debouncer

import (
	"errors"
	"testing"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacing"
)

func TestDebouncerTrailingCollapsesBurst(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var calls []int
	d := New(func(n int) error {
		calls = append(calls, n)
		return nil
	}, Options[int]{
		Wait:  pacing.Static(100 * time.Millisecond),
		Clock: vc,
	})

	d.MaybeExecute(0)
	vc.Advance(50 * time.Millisecond)
	d.MaybeExecute(1)
	vc.Advance(30 * time.Millisecond)
	d.MaybeExecute(2)

	vc.Advance(100 * time.Millisecond) // fires at virtual t=180

	if len(calls) != 1 || calls[0] != 2 {
		t.Fatalf("calls = %v, want [2]", calls)
	}
	if got := d.GetExecutionCount(); got != 1 {
		t.Errorf("ExecutionCount = %d, want 1", got)
	}
}

func TestDebouncerLeadingAndTrailingFiresOnceEachForMultipleCalls(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var calls []int
	d := New(func(n int) error {
		calls = append(calls, n)
		return nil
	}, Options[int]{
		Wait:    pacing.Static(100 * time.Millisecond),
		Leading: true,
		Clock:   vc,
	})

	d.MaybeExecute(1)
	vc.Advance(10 * time.Millisecond)
	d.MaybeExecute(2)
	vc.Advance(100 * time.Millisecond)

	if got, want := calls, []int{1, 2}; !equalIntSlices(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestDebouncerLeadingOnlySingleCallDoesNotRefire(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var calls []int
	no := false
	d := New(func(n int) error {
		calls = append(calls, n)
		return nil
	}, Options[int]{
		Wait:     pacing.Static(100 * time.Millisecond),
		Leading:  true,
		Trailing: &no,
		Clock:    vc,
	})

	d.MaybeExecute(1)
	vc.Advance(200 * time.Millisecond)

	if got, want := calls, []int{1}; !equalIntSlices(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestDebouncerBothFalseIsNoOp(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	no := false
	calls := 0
	d := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:     pacing.Static(100 * time.Millisecond),
		Leading:  false,
		Trailing: &no,
		Clock:    vc,
	})

	d.MaybeExecute(1)
	vc.Advance(time.Second)

	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestDebouncerFlushDispatchesImmediately(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	d := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:  pacing.Static(time.Second),
		Clock: vc,
	})

	d.MaybeExecute(1)
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if d.State().IsPending {
		t.Error("IsPending = true after Flush")
	}
}

func TestDebouncerFlushNoopWhenIdle(t *testing.T) {
	d := New(func(int) error { return nil }, Options[int]{Wait: pacing.Static(time.Second)})
	if err := d.Flush(); err != nil {
		t.Errorf("Flush() on idle debouncer error = %v, want nil", err)
	}
}

func TestDebouncerCancelIsIdempotent(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	d := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:  pacing.Static(100 * time.Millisecond),
		Clock: vc,
	})

	d.MaybeExecute(1)
	d.Cancel()
	d.Cancel()
	vc.Advance(time.Second)

	if calls != 0 {
		t.Errorf("calls = %d, want 0 after Cancel", calls)
	}
	if d.State().IsPending {
		t.Error("IsPending = true after Cancel")
	}
}

func TestDebouncerErrorRoutedToOnError(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	wantErr := errors.New("boom")
	var gotErr error
	d := New(func(int) error { return wantErr }, Options[int]{
		Wait:  pacing.Static(100 * time.Millisecond),
		Clock: vc,
		OnError: func(_ int, err error) {
			gotErr = err
		},
	})

	d.MaybeExecute(1)
	vc.Advance(200 * time.Millisecond)

	if !errors.Is(gotErr, wantErr) {
		t.Errorf("gotErr = %v, want %v", gotErr, wantErr)
	}
	if got := d.GetExecutionCount(); got != 0 {
		t.Errorf("ExecutionCount = %d, want 0 (errored calls don't count)", got)
	}
}

func TestDebouncerEnabledFalseDropsCalls(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	d := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:    pacing.Static(100 * time.Millisecond),
		Enabled: pacing.Static(false),
		Clock:   vc,
	})

	d.MaybeExecute(1)
	vc.Advance(time.Second)

	if calls != 0 {
		t.Errorf("calls = %d, want 0 while disabled", calls)
	}
	if got := d.State().Status; got != pacing.StatusDisabled {
		t.Errorf("Status = %v, want disabled", got)
	}
}

func TestDebouncerSetOptionsDisablingCancelsPendingFire(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	calls := 0
	d := New(func(int) error { calls++; return nil }, Options[int]{
		Wait:  pacing.Static(100 * time.Millisecond),
		Clock: vc,
	})

	d.MaybeExecute(1)
	d.SetOptions(func(o Options[int]) Options[int] {
		o.Enabled = pacing.Static(false)
		return o
	})
	vc.Advance(time.Second)

	if calls != 0 {
		t.Errorf("calls = %d, want 0 (disabling must cancel the pending trailing fire)", calls)
	}
	if got := d.State().Status; got != pacing.StatusDisabled {
		t.Errorf("Status = %v, want disabled", got)
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
