package blobtree

import (
	"context"
	"time"
)

// Entry is one direct child returned by [BlobStore.List]. A virtual prefix
// (a folder implied by deeper keys) has neither ID nor ContentType.
type Entry struct {
	Key         string // full key, for folders the prefix without trailing separator
	Name        string // last segment of Key
	ID          *string
	Size        *int64
	ContentType *string
	ModifiedAt  time.Time
}

// IsVirtualPrefix reports whether e carries no object metadata at all.
func (e Entry) IsVirtualPrefix() bool {
	return e.ID == nil && e.ContentType == nil
}

// RemoveResult is the outcome of removing one key. Err is nil on success.
type RemoveResult struct {
	Key string
	Err error
}

// BlobStore is a flat key-value object store. Implementations classify
// their failures by wrapping [ErrNotFound], [ErrPermission], [ErrTransient]
// or [ErrConflict], typically with [NewStoreError]; unclassified errors are
// not retried.
type BlobStore interface {
	// List returns the direct children of prefix ("" for the root), sorted by
	// name. Deeper keys appear as a single virtual prefix entry per folder.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Put writes data at key, replacing any existing blob.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the blob at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Remove deletes keys and reports a result for every requested key.
	// Removing a missing key may report success or [ErrNotFound].
	Remove(ctx context.Context, keys []string) []RemoveResult

	// PublicURL is the address clients can fetch key from. It does not
	// check that the key exists.
	PublicURL(key string) string
}

// Mover is implemented by stores with a native single-key rename. Move must
// fail with [ErrConflict] rather than overwrite an existing dst.
type Mover interface {
	Move(ctx context.Context, src, dst string) error
}

// Copier is implemented by stores that can copy a blob without the data
// passing through the caller. Copy must fail with [ErrConflict] rather than
// overwrite an existing dst.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// ConditionalPutter is implemented by stores that can write a key only when
// it does not exist yet, failing with [ErrConflict] otherwise.
type ConditionalPutter interface {
	PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error
}

// BatchLimiter is implemented by stores that cap the number of keys a single
// Remove call accepts.
type BatchLimiter interface {
	MaxBatchRemove() int
}
