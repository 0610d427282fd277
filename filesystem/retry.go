package filesystem

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/metrics"
	"github.com/brettbedarf/blobtree/internal/telemetry"
)

// Store call names used for retries, metrics and logs.
const (
	storeOpList   = "list"
	storeOpPut    = "put"
	storeOpGet    = "get"
	storeOpRemove = "remove"
	storeOpMove   = "move"
	storeOpCopy   = "copy"
)

// retrier runs single store calls with a per-attempt timeout and retries
// transient failures with capped exponential backoff.
type retrier struct {
	attempts int
	base     time.Duration
	max      time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// read runs fn under ctx, so cancelling the caller aborts it.
func (r *retrier) read(ctx context.Context, op, key string, fn func(context.Context) error) error {
	return r.run(ctx, op, key, false, fn)
}

// write runs fn detached from ctx cancellation. A started write is allowed
// to finish so its outcome is known; cancellation only stops further
// retries.
func (r *retrier) write(ctx context.Context, op, key string, fn func(context.Context) error) error {
	return r.run(ctx, op, key, true, fn)
}

func (r *retrier) run(ctx context.Context, op, key string, detach bool, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 && !r.wait(ctx, op, key, attempt, err) {
			return err
		}
		err = r.call(ctx, op, key, detach, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

// call makes one attempt bounded by the per-call timeout. A timeout of the
// attempt itself, as opposed to the caller's deadline, is reported as
// transient.
func (r *retrier) call(ctx context.Context, op, key string, detach bool, fn func(context.Context) error) error {
	parent := ctx
	if detach {
		parent = context.WithoutCancel(ctx)
	}
	callCtx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	r.metrics.ObserveStoreCall(op, time.Since(start), err)

	if err != nil && errors.Is(err, context.DeadlineExceeded) &&
		callCtx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		return blobtree.NewStoreError(op, key, blobtree.ErrTransient, err)
	}
	return err
}

// wait sleeps before the given retry attempt. It returns false when ctx is
// done first, in which case the caller keeps the last error.
func (r *retrier) wait(ctx context.Context, op, key string, attempt int, lastErr error) bool {
	if ctx.Err() != nil {
		return false
	}
	delay := r.backoff(attempt - 1)
	r.metrics.IncRetry(op)
	telemetry.AddEvent(ctx, "retry", telemetry.Key(key), telemetry.Attempt(attempt+1))
	zerolog.Ctx(ctx).Debug().Err(lastErr).
		Str("storeOp", op).
		Str("key", key).
		Int("attempt", attempt+1).
		Dur("backoff", delay).
		Msg("Retrying store call")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoff returns base*2^n capped at max, with up to half of it replaced by
// random jitter.
func (r *retrier) backoff(n int) time.Duration {
	d := r.base
	for i := 0; i < n && d < r.max; i++ {
		d *= 2
	}
	d = min(d, r.max)
	if half := int64(d / 2); half > 0 {
		d = time.Duration(half + rand.Int64N(half+1))
	}
	return d
}

func retryable(err error) bool {
	return blobtree.IsTransient(err)
}
