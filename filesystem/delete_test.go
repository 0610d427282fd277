package filesystem

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/adapters"
	"github.com/brettbedarf/blobtree/internal/mocks"
)

// batchRecorder records the size of every Remove call.
type batchRecorder struct {
	*adapters.MemoryStore
	mu      sync.Mutex
	batches []int
}

func (b *batchRecorder) Remove(ctx context.Context, keys []string) []blobtree.RemoveResult {
	b.mu.Lock()
	b.batches = append(b.batches, len(keys))
	b.mu.Unlock()
	return b.MemoryStore.Remove(ctx, keys)
}

func TestFileSystem_DeleteFolder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("docs", func(t *testing.T) {
		t.Parallel()
		store := adapters.NewMemoryStore()
		seed(t, store, "docs/a.pdf", "docs/sub/b.pdf", "docsx/keep.pdf")
		fs := newTestFS(t, store)

		keys, err := fs.ResolveDescendantKeys(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"docs/a.pdf", "docs/sub/b.pdf"}, keys)

		res, err := fs.DeleteFolder(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.Equal(t, []blobtree.BlobKey{"docs/a.pdf", "docs/sub/b.pdf"}, res.Succeeded)
		assert.Empty(t, res.Failed)
		assert.Empty(t, res.Warning)

		nodes, err := fs.ListChildren(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.Empty(t, nodes)
		exists, err := fs.Exists(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Equal(t, []string{"docsx/keep.pdf"}, store.Keys())
	})

	t.Run("with_placeholders", func(t *testing.T) {
		t.Parallel()
		store := adapters.NewMemoryStore()
		seed(t, store, "docs/.folder", "docs/empty/.folder", "docs/a.pdf")
		fs := newTestFS(t, store)

		res, err := fs.DeleteFolder(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.Equal(t, []blobtree.BlobKey{"docs/.folder", "docs/a.pdf", "docs/empty/.folder"}, res.Succeeded)
		assert.Empty(t, store.Keys())
	})

	t.Run("root_rejected", func(t *testing.T) {
		t.Parallel()
		store := adapters.NewMemoryStore()
		seed(t, store, "a.txt")
		_, err := newTestFS(t, store).DeleteFolder(ctx, blobtree.Root)
		assert.ErrorIs(t, err, blobtree.ErrInvalidPath)
		assert.True(t, store.Has("a.txt"))
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, err := newTestFS(t, adapters.NewMemoryStore()).DeleteFolder(ctx, mustPath("nope"))
		var nf *blobtree.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, blobtree.FolderKind, nf.Kind)
	})

	t.Run("transient_key_retried", func(t *testing.T) {
		t.Parallel()
		var mu sync.Mutex
		fails := 2
		store := adapters.NewMemoryStore(adapters.WithFailFunc(func(op, key string) error {
			mu.Lock()
			defer mu.Unlock()
			if op == adapters.OpRemove && key == "docs/b" && fails > 0 {
				fails--
				return errTransient
			}
			return nil
		}))
		seed(t, store, "docs/a", "docs/b", "docs/c")
		fs := newTestFS(t, store)

		res, err := fs.DeleteFolder(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.Equal(t, []blobtree.BlobKey{"docs/a", "docs/b", "docs/c"}, res.Succeeded)
		assert.Equal(t, 5, store.Calls(adapters.OpRemove), "only the failing key is sent again")
	})

	t.Run("partial_then_rerun", func(t *testing.T) {
		t.Parallel()
		store := adapters.NewMemoryStore(adapters.WithFailFunc(
			failOn(adapters.OpRemove, "docs/sub/b.pdf", blobtree.NewStoreError("remove", "docs/sub/b.pdf", blobtree.ErrPermission, nil)),
		))
		seed(t, store, "docs/a.pdf", "docs/sub/b.pdf", "docs/c.pdf")
		fs := newTestFS(t, store)

		res, err := fs.DeleteFolder(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.Equal(t, []blobtree.BlobKey{"docs/a.pdf", "docs/c.pdf"}, res.Succeeded)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, "docs/sub/b.pdf", res.Failed[0].Key)
		assert.ErrorIs(t, res.Failed[0].Err, blobtree.ErrPermission)
		assert.Equal(t, blobtree.WarningPartial, res.Warning)
		assert.ErrorIs(t, res.Err("delete"), blobtree.ErrPartialFailure)
		assert.Equal(t, 3, store.Calls(adapters.OpRemove), "permission errors are not retried")

		exists, err := fs.Exists(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.True(t, exists)

		store.SetFailFunc(nil)
		res, err = fs.DeleteFolder(ctx, mustPath("docs"))
		require.NoError(t, err)
		assert.Equal(t, []blobtree.BlobKey{"docs/sub/b.pdf"}, res.Succeeded)
		assert.Empty(t, store.Keys())
	})

	t.Run("batch_size", func(t *testing.T) {
		t.Parallel()
		rec := &batchRecorder{MemoryStore: adapters.NewMemoryStore(adapters.WithMaxBatchRemove(3))}
		keys := []string{"d/1", "d/2", "d/3", "d/4", "d/5", "d/6", "d/7"}
		seed(t, rec, keys...)
		cfg := createTestConfig()
		cfg.DeleteBatchSize = 5
		fs := NewFS(rec, cfg)

		res, err := fs.DeleteFolder(ctx, mustPath("d"))
		require.NoError(t, err)
		assert.Equal(t, keys, res.Succeeded)
		assert.ElementsMatch(t, []int{3, 3, 1}, rec.batches)
	})

	t.Run("missing_remove_result", func(t *testing.T) {
		t.Parallel()
		store := new(mocks.MockBlobStore)
		store.On("List", mock.Anything, "docs").Return(mocks.Entries("docs", "a.pdf"), nil)
		store.On("PublicURL", mock.Anything).Return("")
		store.On("Remove", mock.Anything, []string{"docs/a.pdf"}).
			Return(func(context.Context, []string) []blobtree.RemoveResult { return nil }).Once()

		res, err := newTestFS(t, store).DeleteFolder(ctx, mustPath("docs"))
		require.NoError(t, err)
		require.Len(t, res.Failed, 1)
		assert.ErrorIs(t, res.Failed[0].Err, errNoRemoveResult)
		store.AssertExpectations(t)
	})

	t.Run("listing_error_aborts_before_remove", func(t *testing.T) {
		t.Parallel()
		store := new(mocks.MockBlobStore)
		store.On("List", mock.Anything, "docs").Return(mocks.Entries("docs", "a.pdf", "sub/"), nil)
		store.On("List", mock.Anything, "docs/sub").
			Return(nil, blobtree.NewStoreError("list", "docs/sub", blobtree.ErrPermission, nil))
		store.On("PublicURL", mock.Anything).Return("")

		res, err := newTestFS(t, store).DeleteFolder(ctx, mustPath("docs"))
		assert.Nil(t, res)
		assert.ErrorIs(t, err, blobtree.ErrPermission)
		store.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
	})

	t.Run("cancel_accounts_every_key", func(t *testing.T) {
		t.Parallel()
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		store := adapters.NewMemoryStore(adapters.WithFailFunc(func(op, key string) error {
			if op == adapters.OpRemove {
				cancel()
			}
			return nil
		}))
		keys := []string{"d/1", "d/2", "d/3", "d/4", "d/5", "d/6"}
		seed(t, store, keys...)
		cfg := createTestConfig()
		cfg.DeleteBatchSize = 1
		cfg.Workers = 1
		fs := NewFS(store, cfg)

		res, err := fs.DeleteFolder(cctx, mustPath("d"))
		require.NoError(t, err)
		assert.Equal(t, []blobtree.BlobKey{"d/1"}, res.Succeeded, "the started remove completes")
		assert.Len(t, res.Failed, len(keys)-1)
		for _, f := range res.Failed {
			assert.ErrorIs(t, f.Err, context.Canceled)
		}
		assert.Equal(t, blobtree.WarningPartial, res.Warning)
		assert.Len(t, store.Keys(), len(keys)-1)
	})
}

func TestFileSystem_DeleteFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := adapters.NewMemoryStore()
	seed(t, store, "docs/a.pdf", "docs/b.pdf")
	fs := newTestFS(t, store)

	res, err := fs.DeleteFile(ctx, mustPath("docs/a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []blobtree.BlobKey{"docs/a.pdf"}, res.Succeeded)
	assert.Equal(t, []string{"docs/b.pdf"}, store.Keys())

	_, err = fs.DeleteFile(ctx, mustPath("docs/a.pdf"))
	assert.ErrorIs(t, err, blobtree.ErrNotFound)

	_, err = fs.DeleteFile(ctx, mustPath("docs"))
	assert.ErrorIs(t, err, blobtree.ErrNotFound, "folders are not files")

	_, err = fs.DeleteFile(ctx, blobtree.Root)
	assert.ErrorIs(t, err, blobtree.ErrInvalidPath)
	_, err = fs.DeleteFile(ctx, mustPath("docs/.folder"))
	assert.ErrorIs(t, err, blobtree.ErrInvalidPath)
}
