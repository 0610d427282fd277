package filesystem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/metrics"
)

func newTestRetrier(attempts int) *retrier {
	return &retrier{
		attempts: attempts,
		base:     time.Millisecond,
		max:      4 * time.Millisecond,
		timeout:  time.Second,
	}
}

// gatherValue sums every series of the named counter in reg.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestRetrier_Backoff(t *testing.T) {
	t.Parallel()

	r := &retrier{base: 100 * time.Millisecond, max: time.Second}
	tests := []struct {
		n        int
		min, max time.Duration
	}{
		{0, 50 * time.Millisecond, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, 200 * time.Millisecond},
		{2, 200 * time.Millisecond, 400 * time.Millisecond},
		{3, 400 * time.Millisecond, 800 * time.Millisecond},
		{4, 500 * time.Millisecond, time.Second},
		{20, 500 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		for range 20 {
			d := r.backoff(tt.n)
			assert.GreaterOrEqual(t, d, tt.min, "n=%d", tt.n)
			assert.LessOrEqual(t, d, tt.max, "n=%d", tt.n)
		}
	}
}

func TestRetrier_Run(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("transient_then_success", func(t *testing.T) {
		t.Parallel()
		reg := prometheus.NewRegistry()
		r := newTestRetrier(3)
		r.metrics = metrics.New(reg)

		calls := 0
		err := r.read(ctx, storeOpGet, "k", func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.InDelta(t, 2, gatherValue(t, reg, "blobtree_store_retries_total"), 0)
	})

	t.Run("attempts_exhausted", func(t *testing.T) {
		t.Parallel()
		r := newTestRetrier(3)
		calls := 0
		err := r.read(ctx, storeOpGet, "k", func(context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, blobtree.ErrTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent_not_retried", func(t *testing.T) {
		t.Parallel()
		r := newTestRetrier(3)
		for _, kind := range []error{blobtree.ErrPermission, blobtree.ErrNotFound, blobtree.ErrConflict} {
			calls := 0
			err := r.read(ctx, storeOpGet, "k", func(context.Context) error {
				calls++
				return blobtree.NewStoreError(storeOpGet, "k", kind, nil)
			})
			assert.ErrorIs(t, err, kind)
			assert.Equal(t, 1, calls, kind.Error())
		}
	})

	t.Run("unclassified_not_retried", func(t *testing.T) {
		t.Parallel()
		r := newTestRetrier(3)
		calls := 0
		boom := errors.New("boom")
		err := r.read(ctx, storeOpGet, "k", func(context.Context) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("per_call_timeout_is_transient", func(t *testing.T) {
		t.Parallel()
		r := newTestRetrier(2)
		r.timeout = 5 * time.Millisecond
		calls := 0
		err := r.read(ctx, storeOpList, "k", func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, blobtree.ErrTransient)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 2, calls)
	})

	t.Run("caller_deadline_not_retried", func(t *testing.T) {
		t.Parallel()
		r := newTestRetrier(3)
		cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		calls := 0
		err := r.read(cctx, storeOpList, "k", func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, blobtree.IsTransient(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("cancel_stops_retries", func(t *testing.T) {
		t.Parallel()
		r := newTestRetrier(5)
		r.base, r.max = time.Hour, time.Hour
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := r.read(cctx, storeOpGet, "k", func(context.Context) error {
			calls++
			cancel()
			return errTransient
		})
		assert.ErrorIs(t, err, blobtree.ErrTransient)
		assert.Equal(t, 1, calls)
	})

	t.Run("write_survives_cancel", func(t *testing.T) {
		t.Parallel()
		r := newTestRetrier(1)
		cctx, cancel := context.WithCancel(ctx)
		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- r.write(cctx, storeOpPut, "k", func(ctx context.Context) error {
				close(started)
				time.Sleep(10 * time.Millisecond)
				return ctx.Err()
			})
		}()
		<-started
		cancel()
		assert.NoError(t, <-done)
	})
}
