package filesystem

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/telemetry"
)

// Delete and move state machine states, recorded on the operation span.
const (
	stateResolving       = "resolving"
	stateDeleting        = "deleting"
	stateConflictCheck   = "conflict_check"
	stateCreateDest      = "create_dest"
	stateMoving          = "moving"
	stateCleanupSource   = "cleanup_source"
	stateAllSucceeded    = "all_succeeded"
	statePartiallyFailed = "partially_failed"
)

var errNoRemoveResult = errors.New("store reported no result for key")

// DeleteFile removes the file at path. It fails with [blobtree.ErrNotFound]
// when no such file exists; a failed removal is reported in the result.
func (fs *FileSystem) DeleteFile(ctx context.Context, path blobtree.Path) (*blobtree.OperationResult, error) {
	ctx, op := fs.begin(ctx, opDeleteFile, path)
	res, err := fs.deleteFile(ctx, path)
	op.end(res, err)
	return res, err
}

func (fs *FileSystem) deleteFile(ctx context.Context, path blobtree.Path) (*blobtree.OperationResult, error) {
	if err := requireFilePath("delete", path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, _, err := fs.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, &blobtree.NotFoundError{Path: path, Kind: blobtree.FileKind}
	}

	var c collector
	fs.removeKeys(ctx, []blobtree.BlobKey{path.Key()}, &c)
	return c.result(), nil
}

// DeleteFolder removes every blob below path, nested placeholders and the
// folder's own placeholder included, in batches on the worker pool. Keys
// that still fail after retries are listed in the result, which then
// carries [blobtree.WarningPartial]; the folder may still exist. Running it
// again is safe and only finds the remaining keys.
func (fs *FileSystem) DeleteFolder(ctx context.Context, path blobtree.Path) (*blobtree.OperationResult, error) {
	ctx, op := fs.begin(ctx, opDeleteFolder, path)
	res, err := fs.deleteFolder(ctx, op, path)
	op.end(res, err)
	return res, err
}

func (fs *FileSystem) deleteFolder(ctx context.Context, op *opScope, path blobtree.Path) (*blobtree.OperationResult, error) {
	if path.IsRoot() {
		return nil, &blobtree.PathError{Op: "delete", Path: path.String(), Reason: "cannot delete the root folder"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, err := fs.exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &blobtree.NotFoundError{Path: path, Kind: blobtree.FolderKind}
	}

	op.state(stateResolving)
	files, placeholder, err := fs.descendants(ctx, path)
	if err != nil {
		return nil, err
	}
	keys := fileKeys(files)
	if placeholder {
		keys = append(keys, path.PlaceholderKey())
	}
	telemetry.SetAttributes(ctx, telemetry.Keys(len(keys)))

	op.state(stateDeleting)
	var c collector
	fs.removeKeys(ctx, keys, &c)

	return finish(op, &c), nil
}

// removeKeys removes keys in batches on the worker pool and records every
// key in c. Batches not started because ctx ended fail with its error.
func (fs *FileSystem) removeKeys(ctx context.Context, keys []blobtree.BlobKey, c *collector) {
	size := fs.batchSize()
	var batches [][]blobtree.BlobKey
	for i := 0; i < len(keys); i += size {
		batches = append(batches, keys[i:min(i+size, len(keys))])
	}

	skipped := forEach(ctx, fs.workers(), batches, func(batch []blobtree.BlobKey) {
		fs.removeBatch(ctx, batch, c)
	})
	for _, batch := range skipped {
		c.failAll(batch, ctx.Err())
	}
}

// removeBatch issues Remove for batch and retries only the keys that failed
// transiently. A missing key counts as removed.
func (fs *FileSystem) removeBatch(ctx context.Context, batch []blobtree.BlobKey, c *collector) {
	logger := zerolog.Ctx(ctx)
	pending := batch
	var lastErr error
	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt > 0 && !fs.retry.wait(ctx, storeOpRemove, pending[0], attempt, lastErr) {
			c.failAll(pending, fmt.Errorf("retry abandoned: %w", ctx.Err()))
			return
		}

		var results []blobtree.RemoveResult
		_ = fs.retry.call(ctx, storeOpRemove, pending[0], true, func(ctx context.Context) error {
			results = fs.store.Remove(ctx, pending)
			return firstRemoveError(results)
		})

		byKey := make(map[blobtree.BlobKey]error, len(results))
		for _, r := range results {
			byKey[r.Key] = r.Err
			// only the per-call timeout can expire a detached call
			if errors.Is(r.Err, context.DeadlineExceeded) {
				byKey[r.Key] = blobtree.NewStoreError(storeOpRemove, r.Key, blobtree.ErrTransient, r.Err)
			}
		}

		var again []blobtree.BlobKey
		for _, key := range pending {
			err, reported := byKey[key]
			switch {
			case !reported:
				c.fail(key, errNoRemoveResult)
			case err == nil || blobtree.IsNotFound(err):
				c.ok(key)
			case retryable(err) && attempt+1 < fs.retry.attempts:
				again = append(again, key)
				lastErr = err
			default:
				logger.Debug().Err(err).Str("key", key).Msg("Remove failed")
				c.fail(key, err)
			}
		}
		pending = again
	}
}

// removeOne removes a single key with retries.
func (fs *FileSystem) removeOne(ctx context.Context, key blobtree.BlobKey) error {
	var c collector
	fs.removeBatch(ctx, []blobtree.BlobKey{key}, &c)
	if res := c.result(); res.Partial() {
		return res.Failed[0].Err
	}
	return nil
}

func firstRemoveError(results []blobtree.RemoveResult) error {
	for _, r := range results {
		if r.Err != nil && !blobtree.IsNotFound(r.Err) {
			return r.Err
		}
	}
	return nil
}
