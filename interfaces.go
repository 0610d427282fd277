package blobtree

import (
	"context"
	"errors"
)

// SkipFolder may be returned by a [WalkFunc] visiting a folder to skip its
// contents.
var SkipFolder = errors.New("skip this folder")

// WalkFunc is called for every node visited by [FileSystemOperator.Walk].
type WalkFunc func(node Node) error

// FileSystemOperator defines the tree operations that external consumers
// (CLI, FUSE mount, manifests) need.
type FileSystemOperator interface {
	ListChildren(ctx context.Context, path Path) ([]Node, error)
	Exists(ctx context.Context, path Path) (bool, error)
	Stat(ctx context.Context, path Path) (Node, error)
	Walk(ctx context.Context, root Path, fn WalkFunc) error

	CreateFolder(ctx context.Context, path Path) error
	UploadFile(ctx context.Context, path Path, data []byte, contentType string) error
	ReadFile(ctx context.Context, path Path) ([]byte, error)

	DeleteFile(ctx context.Context, path Path) (*OperationResult, error)
	DeleteFolder(ctx context.Context, path Path) (*OperationResult, error)

	MoveFile(ctx context.Context, src, dest Path) (*OperationResult, error)
	MoveFolder(ctx context.Context, src, dest Path) (*OperationResult, error)
	ResumeFolderMove(ctx context.Context, src, dest Path) (*OperationResult, error)
	RenameItem(ctx context.Context, path Path, newName string) (*OperationResult, error)
}
