// Package retry implements AsyncRetry, a functional wrapper that composes
// over any async target function to add retry, backoff, and timeout
// discipline without being tied to any one pacing primitive.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tanstack/go-pacer/clock"
	"github.com/tanstack/go-pacer/pacing"
)

// Backoff selects how the delay between attempts grows.
type Backoff int

const (
	// Linear grows delay as baseWait * attempt.
	Linear Backoff = iota
	// Exponential grows delay as baseWait * 2^(attempt-1).
	Exponential
)

// TargetFunc is the async function being retried.
type TargetFunc[T, R any] func(ctx context.Context, args T) (R, error)

// Options configures a Retry wrapper.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// Backoff selects the growth curve. Default: Exponential.
	Backoff Backoff

	// BaseWait is the unit delay the backoff curve scales from.
	// Default: 100ms.
	BaseWait time.Duration

	// Jitter draws each delay's multiplier uniformly from
	// [1-Jitter, 1+Jitter]. Must be in [0,1). Default: 0 (no jitter).
	Jitter float64

	// MaxExecutionTime caps a single attempt's duration. Zero means no
	// per-attempt cap.
	MaxExecutionTime time.Duration

	// MaxTotalExecutionTime bounds the whole Execute call across all
	// attempts: no retry is started whose backoff wait would carry the
	// elapsed time past it. An attempt that is already running is not cut
	// short by it. Zero means no total cap.
	MaxTotalExecutionTime time.Duration

	// RetryIf decides whether an error is retryable. Default: all
	// non-nil errors are retryable.
	RetryIf func(err error) bool

	OnRetry     func(attempt int, err error)
	OnLastError func(err error)
	OnSettled   func(attempt int, err error)

	Clock clock.Clock

	// Rand returns a float64 in [0,1); overridable for deterministic
	// tests. Default: math/rand/v2.Float64.
	Rand func() float64
}

func (o Options) maxAttempts() int {
	if o.MaxAttempts <= 0 {
		return 3
	}
	return o.MaxAttempts
}

func (o Options) baseWait() time.Duration {
	if o.BaseWait <= 0 {
		return 100 * time.Millisecond
	}
	return o.BaseWait
}

func (o Options) retryIf(err error) bool {
	if o.RetryIf == nil {
		return err != nil
	}
	return o.RetryIf(err)
}

func (o Options) rand() float64 {
	if o.Rand != nil {
		return o.Rand()
	}
	return rand.Float64()
}

// Retry wraps a TargetFunc with retry/backoff/timeout discipline.
type Retry[T, R any] struct {
	opts Options
}

// New creates a Retry wrapper from opts.
func New[T, R any](opts Options) *Retry[T, R] {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	return &Retry[T, R]{opts: opts}
}

// Wrap returns a TargetFunc that retries target per r's options.
func (r *Retry[T, R]) Wrap(target TargetFunc[T, R]) TargetFunc[T, R] {
	return func(ctx context.Context, args T) (R, error) {
		return r.Execute(ctx, args, target)
	}
}

// Execute runs target with retries. ctx doubles as the AbortSignal:
// cancelling it aborts the pending attempt or wait immediately, suppresses
// further retries, and returns pacing.ErrAborted.
func (r *Retry[T, R]) Execute(ctx context.Context, args T, target TargetFunc[T, R]) (R, error) {
	start := r.opts.Clock.Now()
	var zero R
	var lastErr error

	for attempt := 1; attempt <= r.opts.maxAttempts(); attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.opts.MaxExecutionTime > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.opts.MaxExecutionTime)
		}
		result, err := target(attemptCtx, args)
		if cancel != nil {
			cancel()
		}

		if ctx.Err() != nil {
			if r.opts.OnSettled != nil {
				r.opts.OnSettled(attempt, pacing.ErrAborted)
			}
			return zero, pacing.ErrAborted
		}

		if err == nil {
			if r.opts.OnSettled != nil {
				r.opts.OnSettled(attempt, nil)
			}
			return result, nil
		}

		lastErr = err
		if !r.opts.retryIf(err) {
			if r.opts.OnSettled != nil {
				r.opts.OnSettled(attempt, err)
			}
			return zero, err
		}
		if attempt >= r.opts.maxAttempts() {
			break
		}

		delay := r.delay(attempt)
		if r.opts.MaxTotalExecutionTime > 0 {
			elapsed := r.opts.Clock.Now().Sub(start)
			if elapsed+delay > r.opts.MaxTotalExecutionTime {
				break
			}
		}

		if r.opts.OnRetry != nil {
			r.opts.OnRetry(attempt, err)
		}

		if waitErr := r.wait(ctx, delay); waitErr != nil {
			if r.opts.OnSettled != nil {
				r.opts.OnSettled(attempt, pacing.ErrAborted)
			}
			return zero, pacing.ErrAborted
		}
	}

	if r.opts.OnLastError != nil {
		r.opts.OnLastError(lastErr)
	}
	if r.opts.OnSettled != nil {
		r.opts.OnSettled(r.opts.maxAttempts(), pacing.ErrRetryExhausted)
	}
	return zero, pacing.ErrRetryExhausted
}

// delay computes the backoff duration for the given attempt (1-based),
// with a jitter multiplier drawn uniformly from [1-Jitter, 1+Jitter].
func (r *Retry[T, R]) delay(attempt int) time.Duration {
	base := r.opts.baseWait()
	var d time.Duration
	switch r.opts.Backoff {
	case Linear:
		d = base * time.Duration(attempt)
	default:
		d = time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	}
	if r.opts.Jitter > 0 {
		lo := 1 - r.opts.Jitter
		span := 2 * r.opts.Jitter
		multiplier := lo + span*r.opts.rand()
		d = time.Duration(float64(d) * multiplier)
	}
	return d
}

// wait blocks for d or until ctx is cancelled, whichever comes first.
func (r *Retry[T, R]) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	done := make(chan struct{})
	timer := r.opts.Clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}
