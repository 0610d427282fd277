package filesystem

import (
	"context"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brettbedarf/blobtree"
)

// forEach runs fn for items on at most workers goroutines. Once ctx is done
// no further item is started; running ones finish. The items never started
// are returned so the caller can record them.
func forEach[T any](ctx context.Context, workers int, items []T, fn func(T)) (skipped []T) {
	sem := semaphore.NewWeighted(int64(max(workers, 1)))
	var g errgroup.Group

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			skipped = items[i:]
			break
		}
		// Acquire may succeed on a done ctx when a slot is free
		if ctx.Err() != nil {
			sem.Release(1)
			skipped = items[i:]
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			fn(item)
			return nil
		})
	}
	_ = g.Wait()
	return skipped
}

// collector gathers per-key outcomes from concurrent workers.
type collector struct {
	mu        sync.Mutex
	succeeded []blobtree.BlobKey
	failed    []blobtree.KeyFailure
	nonAtomic bool
}

func (c *collector) ok(keys ...blobtree.BlobKey) {
	c.mu.Lock()
	c.succeeded = append(c.succeeded, keys...)
	c.mu.Unlock()
}

func (c *collector) fail(key blobtree.BlobKey, err error) {
	c.mu.Lock()
	c.failed = append(c.failed, blobtree.KeyFailure{Key: key, Err: err})
	c.mu.Unlock()
}

func (c *collector) failAll(keys []blobtree.BlobKey, err error) {
	for _, k := range keys {
		c.fail(k, err)
	}
}

func (c *collector) markNonAtomic() {
	c.mu.Lock()
	c.nonAtomic = true
	c.mu.Unlock()
}

func (c *collector) succeededCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.succeeded)
}

// result builds the final, sorted OperationResult. The collector must not be
// used afterwards.
func (c *collector) result() *blobtree.OperationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := &blobtree.OperationResult{
		Succeeded: slices.Clone(c.succeeded),
		Failed:    slices.Clone(c.failed),
		NonAtomic: c.nonAtomic,
	}
	if res.Succeeded == nil {
		res.Succeeded = []blobtree.BlobKey{}
	}
	slices.Sort(res.Succeeded)
	slices.SortFunc(res.Failed, func(a, b blobtree.KeyFailure) int {
		return strings.Compare(a.Key, b.Key)
	})

	switch {
	case len(res.Failed) > 0:
		res.Warning = blobtree.WarningPartial
	case res.NonAtomic:
		res.Warning = blobtree.WarningNonAtomicMove
	}
	return res
}
