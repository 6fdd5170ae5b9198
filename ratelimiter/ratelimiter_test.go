package ratelimiter

import (
	"testing"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacing"
)

func TestRateLimiterSlidingWindowScenario(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var calls []int
	rl := New(func(n int) error {
		calls = append(calls, n)
		return nil
	}, Options[int]{
		Limit:      pacing.Static(2),
		Window:     1000 * time.Millisecond,
		WindowType: Sliding,
		Clock:      vc,
	})

	type step struct {
		at       time.Duration
		args     int
		admitted bool
	}
	steps := []step{
		{0, 0, true},
		{100 * time.Millisecond, 1, true},
		{200 * time.Millisecond, 2, false},
		{900 * time.Millisecond, 3, false},
		{1100 * time.Millisecond, 4, true},
	}

	var elapsed time.Duration
	for _, s := range steps {
		vc.Advance(s.at - elapsed)
		elapsed = s.at
		got := rl.MaybeExecute(s.args)
		if got != s.admitted {
			t.Errorf("at %v: MaybeExecute(%d) = %v, want %v", s.at, s.args, got, s.admitted)
		}
	}

	if got := rl.GetExecutionCount(); got != 3 {
		t.Errorf("ExecutionCount = %d, want 3", got)
	}
	if got := rl.GetRejectionCount(); got != 2 {
		t.Errorf("RejectionCount = %d, want 2", got)
	}
	if want := []int{0, 1, 4}; !equalIntSlices(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestRateLimiterFixedWindowResetsOnBoundary(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var admittedCount int
	rl := New(func(int) error {
		admittedCount++
		return nil
	}, Options[int]{
		Limit:      pacing.Static(1),
		Window:     1000 * time.Millisecond,
		WindowType: Fixed,
		Clock:      vc,
	})

	if ok := rl.MaybeExecute(1); !ok {
		t.Fatal("first call in bucket should admit")
	}
	if ok := rl.MaybeExecute(2); ok {
		t.Fatal("second call in same bucket should reject")
	}

	vc.Advance(1000 * time.Millisecond)
	if ok := rl.MaybeExecute(3); !ok {
		t.Fatal("call in next bucket should admit")
	}

	if admittedCount != 2 {
		t.Errorf("admittedCount = %d, want 2", admittedCount)
	}
}

func TestRateLimiterEnabledFalseRejectsAllCalls(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	called := false
	rl := New(func(int) error {
		called = true
		return nil
	}, Options[int]{
		Limit:      pacing.Static(5),
		Window:     time.Second,
		WindowType: Sliding,
		Enabled:    pacing.Static(false),
		Clock:      vc,
	})

	if ok := rl.MaybeExecute(1); ok {
		t.Error("MaybeExecute should reject when disabled")
	}
	if called {
		t.Error("target should not run when disabled")
	}
}

func TestRateLimiterResetClearsWindowNotCounters(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	rl := New(func(int) error { return nil }, Options[int]{
		Limit:      pacing.Static(1),
		Window:     time.Second,
		WindowType: Sliding,
		Clock:      vc,
	})

	rl.MaybeExecute(1)
	if ok := rl.MaybeExecute(2); ok {
		t.Fatal("second call should be rejected before reset")
	}

	rl.Reset()

	if ok := rl.MaybeExecute(3); !ok {
		t.Error("call after Reset should be admitted")
	}
	if got := rl.GetExecutionCount(); got != 2 {
		t.Errorf("ExecutionCount after reset = %d, want 2 (counters survive Reset)", got)
	}
}

func TestRateLimiterOnRejectCallback(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	var rejected []int
	rl := New(func(int) error { return nil }, Options[int]{
		Limit:      pacing.Static(1),
		Window:     time.Second,
		WindowType: Sliding,
		Clock:      vc,
		OnReject: func(args int) {
			rejected = append(rejected, args)
		},
	})

	rl.MaybeExecute(1)
	rl.MaybeExecute(2)

	if want := []int{2}; !equalIntSlices(rejected, want) {
		t.Errorf("rejected = %v, want %v", rejected, want)
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
