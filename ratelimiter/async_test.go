package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacing"
)

func TestAsyncRateLimiterAdmitsUnderLimit(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	rl := NewAsync(func(_ context.Context, n int) (int, error) {
		return n * 10, nil
	}, AsyncOptions[int, int]{
		Limit:      pacing.Static(2),
		Window:     time.Second,
		WindowType: Sliding,
		Clock:      vc,
	})

	val, ok, err := rl.MaybeExecute(context.Background(), 1)
	if err != nil || !ok || val != 10 {
		t.Errorf("got (%v, %v, %v), want (10, true, nil)", val, ok, err)
	}
	val, ok, err = rl.MaybeExecute(context.Background(), 2)
	if err != nil || !ok || val != 20 {
		t.Errorf("got (%v, %v, %v), want (20, true, nil)", val, ok, err)
	}
}

func TestAsyncRateLimiterRejectsOverLimitWithoutCallingTarget(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	called := 0
	rl := NewAsync(func(_ context.Context, n int) (int, error) {
		called++
		return n, nil
	}, AsyncOptions[int, int]{
		Limit:      pacing.Static(1),
		Window:     time.Second,
		WindowType: Sliding,
		Clock:      vc,
	})

	rl.MaybeExecute(context.Background(), 1)
	val, ok, err := rl.MaybeExecute(context.Background(), 2)
	if ok || err != nil || val != 0 {
		t.Errorf("got (%v, %v, %v), want (0, false, nil)", val, ok, err)
	}
	if called != 1 {
		t.Errorf("target called %d times, want 1", called)
	}
}

func TestAsyncRateLimiterThrowOnErrorDefaultsTrueWithoutOnError(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	wantErr := errors.New("boom")
	rl := NewAsync(func(context.Context, int) (int, error) {
		return 0, wantErr
	}, AsyncOptions[int, int]{
		Limit:      pacing.Static(5),
		Window:     time.Second,
		WindowType: Sliding,
		Clock:      vc,
	})

	_, ok, err := rl.MaybeExecute(context.Background(), 1)
	if !ok || !errors.Is(err, wantErr) {
		t.Errorf("got (ok=%v, err=%v), want (true, %v)", ok, err, wantErr)
	}
}

func TestAsyncRateLimiterThrowOnErrorFalseWhenOnErrorSet(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	wantErr := errors.New("boom")
	var captured error
	rl := NewAsync(func(context.Context, int) (int, error) {
		return 0, wantErr
	}, AsyncOptions[int, int]{
		Limit:      pacing.Static(5),
		Window:     time.Second,
		WindowType: Sliding,
		Clock:      vc,
		OnError: func(_ int, err error) {
			captured = err
		},
	})

	_, ok, err := rl.MaybeExecute(context.Background(), 1)
	if ok || err != nil {
		t.Errorf("got (ok=%v, err=%v), want (false, nil)", ok, err)
	}
	if !errors.Is(captured, wantErr) {
		t.Errorf("OnError got %v, want %v", captured, wantErr)
	}
}

func TestAsyncRateLimiterFixedWindowBoundary(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	rl := NewAsync(func(_ context.Context, n int) (int, error) {
		return n, nil
	}, AsyncOptions[int, int]{
		Limit:      pacing.Static(1),
		Window:     100 * time.Millisecond,
		WindowType: Fixed,
		Clock:      vc,
	})

	if _, ok, _ := rl.MaybeExecute(context.Background(), 1); !ok {
		t.Fatal("first call should admit")
	}
	if _, ok, _ := rl.MaybeExecute(context.Background(), 2); ok {
		t.Fatal("second call in same bucket should reject")
	}
	vc.Advance(100 * time.Millisecond)
	if _, ok, _ := rl.MaybeExecute(context.Background(), 3); !ok {
		t.Fatal("call in next bucket should admit")
	}

	if got := rl.State().Status; got != pacing.StatusSettled {
		t.Errorf("Status = %v, want settled", got)
	}
}
