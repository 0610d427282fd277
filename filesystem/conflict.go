package filesystem

import (
	"context"

	"github.com/brettbedarf/blobtree"
)

// CheckFree returns nil when neither a file nor a folder occupies dest, and
// a [*blobtree.ConflictError] naming the occupant otherwise.
func (fs *FileSystem) CheckFree(ctx context.Context, dest blobtree.Path) error {
	ctx, op := fs.begin(ctx, opCheckFree, dest)
	err := fs.checkFree(ctx, dest)
	op.end(nil, err)
	return err
}

func (fs *FileSystem) checkFree(ctx context.Context, dest blobtree.Path) error {
	if dest.IsRoot() {
		return &blobtree.ConflictError{Path: dest, Kind: blobtree.FolderKind}
	}
	exists, err := fs.exists(ctx, dest)
	if err != nil {
		return err
	}
	if exists {
		return &blobtree.ConflictError{Path: dest, Kind: blobtree.FolderKind}
	}

	file, folder, err := fs.lookup(ctx, dest)
	switch {
	case err != nil:
		return err
	case folder != nil:
		return &blobtree.ConflictError{Path: dest, Kind: blobtree.FolderKind}
	case file != nil:
		return &blobtree.ConflictError{Path: dest, Kind: blobtree.FileKind}
	}
	return nil
}

// CheckNotSelfOrDescendant rejects moving folder src to itself or to any
// path below it.
func CheckNotSelfOrDescendant(src, dest blobtree.Path) error {
	if dest.HasPrefix(src) {
		return &blobtree.SelfMoveError{Src: src, Dest: dest}
	}
	return nil
}
