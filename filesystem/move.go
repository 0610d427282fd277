package filesystem

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/telemetry"
)

// MoveFile moves the file at src to dest. Preconditions are checked before
// any write: src must be a file and dest must be free. Stores without a
// native rename get a copy followed by a remove, flagged with
// [blobtree.WarningNonAtomicMove]. Moving a file onto its own path is an
// empty success without store calls, the same as renaming it to its
// current name.
func (fs *FileSystem) MoveFile(ctx context.Context, src, dest blobtree.Path) (*blobtree.OperationResult, error) {
	ctx, op := fs.begin(ctx, opMoveFile, src, dest)
	res, err := fs.moveFile(ctx, op, src, dest)
	op.end(res, err)
	return res, err
}

func (fs *FileSystem) moveFile(ctx context.Context, op *opScope, src, dest blobtree.Path) (*blobtree.OperationResult, error) {
	if err := requireFilePath("move", src); err != nil {
		return nil, err
	}
	if err := requireFilePath("move", dest); err != nil {
		return nil, err
	}
	if src.Equal(dest) {
		return new(collector).result(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	op.state(stateConflictCheck)
	file, _, err := fs.lookup(ctx, src)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, &blobtree.NotFoundError{Path: src, Kind: blobtree.FileKind}
	}
	if err := fs.checkFree(ctx, dest); err != nil {
		return nil, err
	}

	op.state(stateMoving)
	var c collector
	fs.moveOne(ctx, *file.File, dest.Key(), &c)
	return finish(op, &c), nil
}

// MoveFolder moves every blob below src to the same relative key below
// dest. The destination placeholder is written before any file moves, so
// dest is observable first. Per-key failures are collected in the result;
// the source keeps the keys that failed and running the move again only
// finds those. The source placeholder is removed once all moves have been
// attempted. When the source had no placeholder, the destination one is
// dropped again once a file has landed, so moving back restores the
// original key set.
func (fs *FileSystem) MoveFolder(ctx context.Context, src, dest blobtree.Path) (*blobtree.OperationResult, error) {
	ctx, op := fs.begin(ctx, opMoveFolder, src, dest)
	res, err := fs.moveFolder(ctx, op, src, dest)
	op.end(res, err)
	return res, err
}

func (fs *FileSystem) moveFolder(ctx context.Context, op *opScope, src, dest blobtree.Path) (*blobtree.OperationResult, error) {
	if src.IsRoot() {
		return nil, &blobtree.PathError{Op: "move", Path: src.String(), Reason: "cannot move the root folder"}
	}

	op.state(stateConflictCheck)
	if err := CheckNotSelfOrDescendant(src, dest); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, err := fs.exists(ctx, src)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &blobtree.NotFoundError{Path: src, Kind: blobtree.FolderKind}
	}
	if err := fs.checkFree(ctx, dest); err != nil {
		return nil, err
	}

	op.state(stateCreateDest)
	err = fs.putNew(ctx, dest.PlaceholderKey(), nil, placeholderContentType)
	if errors.Is(err, blobtree.ErrConflict) {
		return nil, &blobtree.ConflictError{Path: dest, Kind: blobtree.FolderKind}
	}
	if err != nil {
		return nil, fmt.Errorf("create folder %s: %w", dest, err)
	}

	op.state(stateResolving)
	files, srcPlaceholder, err := fs.descendants(ctx, src)
	if err != nil {
		fs.dropPlaceholder(ctx, dest)
		return nil, err
	}
	telemetry.SetAttributes(ctx, telemetry.Keys(len(files)))

	op.state(stateMoving)
	var c collector
	fs.moveFiles(ctx, files, src, dest, nil, &c)

	op.state(stateCleanupSource)
	fs.cleanupSource(ctx, src, srcPlaceholder, &c)
	if !srcPlaceholder && c.succeededCount() > 0 && ctx.Err() == nil {
		fs.dropPlaceholder(ctx, dest)
	}
	return finish(op, &c), nil
}

// ResumeFolderMove continues an interrupted or partially failed folder move
// into an existing dest. Keys whose destination is already taken fail with
// [blobtree.ErrConflict] instead of being overwritten.
func (fs *FileSystem) ResumeFolderMove(ctx context.Context, src, dest blobtree.Path) (*blobtree.OperationResult, error) {
	ctx, op := fs.begin(ctx, opResumeMove, src, dest)
	res, err := fs.resumeFolderMove(ctx, op, src, dest)
	op.end(res, err)
	return res, err
}

func (fs *FileSystem) resumeFolderMove(ctx context.Context, op *opScope, src, dest blobtree.Path) (*blobtree.OperationResult, error) {
	if src.IsRoot() {
		return nil, &blobtree.PathError{Op: "move", Path: src.String(), Reason: "cannot move the root folder"}
	}

	op.state(stateConflictCheck)
	if err := CheckNotSelfOrDescendant(src, dest); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, p := range []blobtree.Path{src, dest} {
		exists, err := fs.exists(ctx, p)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &blobtree.NotFoundError{Path: p, Kind: blobtree.FolderKind}
		}
	}

	op.state(stateResolving)
	files, srcPlaceholder, err := fs.descendants(ctx, src)
	if err != nil {
		return nil, err
	}
	taken, _, err := fs.descendants(ctx, dest)
	if err != nil {
		return nil, err
	}
	occupied := make(map[blobtree.BlobKey]bool, len(taken))
	for _, f := range taken {
		occupied[f.Path.Key()] = true
	}
	telemetry.SetAttributes(ctx, telemetry.Keys(len(files)))

	op.state(stateMoving)
	var c collector
	fs.moveFiles(ctx, files, src, dest, occupied, &c)

	op.state(stateCleanupSource)
	fs.cleanupSource(ctx, src, srcPlaceholder, &c)
	return finish(op, &c), nil
}

// RenameItem gives the file or folder at path the name newName within the
// same parent. Renaming to the current name succeeds without store calls.
func (fs *FileSystem) RenameItem(ctx context.Context, path blobtree.Path, newName string) (*blobtree.OperationResult, error) {
	ctx, op := fs.begin(ctx, opRename, path)
	res, err := fs.renameItem(ctx, op, path, newName)
	op.end(res, err)
	return res, err
}

func (fs *FileSystem) renameItem(ctx context.Context, op *opScope, path blobtree.Path, newName string) (*blobtree.OperationResult, error) {
	if path.IsRoot() {
		return nil, &blobtree.PathError{Op: "rename", Path: path.String(), Reason: "cannot rename the root folder"}
	}
	if err := blobtree.ValidateName(newName); err != nil {
		return nil, err
	}
	if newName == blobtree.PlaceholderName {
		return nil, &blobtree.PathError{Op: "rename", Path: newName, Reason: "reserved name " + blobtree.PlaceholderName}
	}
	if newName == path.Name() {
		return new(collector).result(), nil
	}
	dest, err := path.WithName(newName)
	if err != nil {
		return nil, err
	}

	file, folder, err := fs.lookup(ctx, path)
	switch {
	case err != nil:
		return nil, err
	case file != nil && !isPlaceholder(*file):
		return fs.moveFile(ctx, op, path, dest)
	case folder != nil:
		return fs.moveFolder(ctx, op, path, dest)
	}
	return nil, &blobtree.NotFoundError{Path: path}
}

// moveFiles moves files from below src to below dest on the worker pool.
// Targets listed in occupied fail with a conflict without a store call.
func (fs *FileSystem) moveFiles(ctx context.Context, files []blobtree.FileNode, src, dest blobtree.Path,
	occupied map[blobtree.BlobKey]bool, c *collector,
) {
	skipped := forEach(ctx, fs.workers(), files, func(f blobtree.FileNode) {
		target, err := f.Path.Rebase(src, dest)
		if err != nil {
			c.fail(f.Path.Key(), err)
			return
		}
		if occupied[target.Key()] {
			c.fail(f.Path.Key(), &blobtree.ConflictError{Path: target, Kind: blobtree.FileKind})
			return
		}
		fs.moveOne(ctx, f, target.Key(), c)
	})
	for _, f := range skipped {
		c.fail(f.Path.Key(), ctx.Err())
	}
}

// moveOne moves a single blob and records the outcome under the source key.
func (fs *FileSystem) moveOne(ctx context.Context, f blobtree.FileNode, dst blobtree.BlobKey, c *collector) {
	src := f.Path.Key()
	nonAtomic, err := fs.moveKey(ctx, f, dst)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("key", src).Str("dst", dst).Msg("Move failed")
		c.fail(src, err)
		return
	}
	c.ok(src)
	if nonAtomic {
		c.markNonAtomic()
	}
}

// moveKey uses the store's native rename when it has one. Otherwise the
// blob is copied, server side if possible, and the source removed after.
// The copy never overwrites an existing dst.
//
// A retried write may fail only because an earlier attempt was applied
// without its reply arriving. Such failures are resolved by looking at the
// store before the key is reported failed.
func (fs *FileSystem) moveKey(ctx context.Context, f blobtree.FileNode, dst blobtree.BlobKey) (nonAtomic bool, err error) {
	src := f.Path.Key()
	if mv, ok := fs.store.(blobtree.Mover); ok {
		retried, err := fs.writeAttempts(ctx, storeOpMove, src, func(ctx context.Context) error {
			return mv.Move(ctx, src, dst)
		})
		if retried && (blobtree.IsNotFound(err) || errors.Is(err, blobtree.ErrConflict)) {
			if moved, lerr := fs.landed(ctx, f.Path, dst, true); lerr == nil && moved {
				zerolog.Ctx(ctx).Debug().Err(err).Str("key", src).Str("dst", dst).Msg("Earlier move attempt was applied")
				return false, nil
			}
		}
		return false, err
	}

	var retried bool
	if cp, ok := fs.store.(blobtree.Copier); ok {
		retried, err = fs.writeAttempts(ctx, storeOpCopy, src, func(ctx context.Context) error {
			return cp.Copy(ctx, src, dst)
		})
	} else {
		retried, err = fs.copyThrough(ctx, f, dst)
	}
	if retried && errors.Is(err, blobtree.ErrConflict) {
		if copied, lerr := fs.landed(ctx, f.Path, dst, false); lerr == nil && copied {
			zerolog.Ctx(ctx).Debug().Err(err).Str("key", src).Str("dst", dst).Msg("Earlier copy attempt was applied")
			err = nil
		}
	}
	if err != nil {
		return true, err
	}
	if err := fs.removeOne(ctx, src); err != nil {
		return true, fmt.Errorf("copied to %q but source not removed: %w", dst, err)
	}
	return true, nil
}

// writeAttempts runs fn as a retried write and reports whether more than
// one attempt was made.
func (fs *FileSystem) writeAttempts(ctx context.Context, op string, key blobtree.BlobKey, fn func(context.Context) error) (retried bool, err error) {
	attempts := 0
	err = fs.retry.write(ctx, op, key, func(ctx context.Context) error {
		attempts++
		return fn(ctx)
	})
	return attempts > 1, err
}

// landed reports whether dst holds a blob. With srcGone set the source
// file must also be absent, as after a completed rename.
func (fs *FileSystem) landed(ctx context.Context, src blobtree.Path, dst blobtree.BlobKey, srcGone bool) (bool, error) {
	dstPath, err := blobtree.ParsePath(dst)
	if err != nil {
		return false, err
	}
	file, _, err := fs.lookup(ctx, dstPath)
	if err != nil || file == nil {
		return false, err
	}
	if !srcGone {
		return true, nil
	}
	file, _, err = fs.lookup(ctx, src)
	if err != nil {
		return false, err
	}
	return file == nil, nil
}

// copyThrough reads the blob and writes it back under dst.
func (fs *FileSystem) copyThrough(ctx context.Context, f blobtree.FileNode, dst blobtree.BlobKey) (retried bool, err error) {
	src := f.Path.Key()
	var data []byte
	err = fs.retry.write(ctx, storeOpGet, src, func(ctx context.Context) error {
		var err error
		data, err = fs.store.Get(ctx, src)
		return err
	})
	if err != nil {
		return false, err
	}
	return fs.writeAttempts(ctx, storeOpPut, dst, func(ctx context.Context) error {
		return fs.putOnce(ctx, dst, data, f.ContentType)
	})
}

// cleanupSource removes the source folder's own placeholder after the moves.
// A cancelled operation leaves it in place and reports it as failed.
func (fs *FileSystem) cleanupSource(ctx context.Context, src blobtree.Path, hasPlaceholder bool, c *collector) {
	if !hasPlaceholder {
		return
	}
	key := src.PlaceholderKey()
	if err := ctx.Err(); err != nil {
		c.fail(key, err)
		return
	}
	if err := fs.removeOne(ctx, key); err != nil {
		c.fail(key, err)
	}
}

// dropPlaceholder removes a placeholder written by this operation. Failure
// only leaves an extra empty-folder marker, so it is logged and ignored.
func (fs *FileSystem) dropPlaceholder(ctx context.Context, folder blobtree.Path) {
	if err := fs.removeOne(ctx, folder.PlaceholderKey()); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", folder.PlaceholderKey()).Msg("Failed to remove placeholder")
	}
}

// finish builds the result and records the final state.
func finish(op *opScope, c *collector) *blobtree.OperationResult {
	res := c.result()
	if res.Partial() {
		op.state(statePartiallyFailed)
	} else {
		op.state(stateAllSucceeded)
	}
	return res
}
