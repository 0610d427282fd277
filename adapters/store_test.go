package adapters

import (
	"context"
	"testing"

	"github.com/brettbedarf/blobtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract runs the behaviour every BlobStore must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) blobtree.BlobStore) {
	ctx := context.Background()

	t.Run("list_direct_children_sorted", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		for _, k := range []string{"docs/b.pdf", "docs/a.pdf", "docs/sub/c.pdf", "docs/sub/deep/d.pdf", "docsx/e", "top.txt"} {
			require.NoError(t, s.Put(ctx, k, []byte(k), "application/pdf"))
		}

		entries, err := s.List(ctx, "docs")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "a.pdf", entries[0].Name)
		assert.Equal(t, "docs/a.pdf", entries[0].Key)
		assert.False(t, entries[0].IsVirtualPrefix())
		assert.Equal(t, "b.pdf", entries[1].Name)
		assert.Equal(t, "sub", entries[2].Name)
		assert.Equal(t, "docs/sub", entries[2].Key)
		assert.True(t, entries[2].IsVirtualPrefix())

		root, err := s.List(ctx, "")
		require.NoError(t, err)
		names := make([]string, len(root))
		for i, e := range root {
			names[i] = e.Name
		}
		assert.Equal(t, []string{"docs", "docsx", "top.txt"}, names)
	})

	t.Run("list_missing_prefix_is_empty", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		entries, err := s.List(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("put_get_metadata", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "a/b.txt", []byte("hello"), "text/plain"))

		data, err := s.Get(ctx, "a/b.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)

		entries, err := s.List(ctx, "a")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].Size)
		assert.Equal(t, int64(5), *entries[0].Size)
		require.NotNil(t, entries[0].ID)
		assert.NotEmpty(t, *entries[0].ID)
	})

	t.Run("get_missing_is_not_found", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, blobtree.ErrNotFound)
	})

	t.Run("remove_per_key", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "x/1", []byte("1"), ""))
		require.NoError(t, s.Put(ctx, "x/2", []byte("2"), ""))

		results := s.Remove(ctx, []string{"x/1", "x/2", "x/missing"})
		require.Len(t, results, 3)
		for _, r := range results {
			assert.NoError(t, r.Err, r.Key)
		}
		entries, err := s.List(ctx, "x")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("put_if_absent", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		cp, ok := s.(blobtree.ConditionalPutter)
		if !ok {
			t.Skip("store has no conditional put")
		}
		require.NoError(t, cp.PutIfAbsent(ctx, "k", []byte("1"), ""))
		err := cp.PutIfAbsent(ctx, "k", []byte("2"), "")
		assert.ErrorIs(t, err, blobtree.ErrConflict)
		data, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), data, "existing blob must not be overwritten")
	})

	t.Run("move_and_copy", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		mv, ok := s.(blobtree.Mover)
		if !ok {
			t.Skip("store has no native move")
		}
		require.NoError(t, s.Put(ctx, "src", []byte("data"), "text/plain"))
		require.NoError(t, s.Put(ctx, "taken", []byte("other"), "text/plain"))

		assert.ErrorIs(t, mv.Move(ctx, "src", "taken"), blobtree.ErrConflict)
		assert.ErrorIs(t, mv.Move(ctx, "missing", "dst"), blobtree.ErrNotFound)
		require.NoError(t, mv.Move(ctx, "src", "dst"))

		_, err := s.Get(ctx, "src")
		assert.ErrorIs(t, err, blobtree.ErrNotFound)
		data, err := s.Get(ctx, "dst")
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), data)

		if cp, ok := s.(blobtree.Copier); ok {
			require.NoError(t, cp.Copy(ctx, "dst", "dst2"))
			assert.ErrorIs(t, cp.Copy(ctx, "dst", "taken"), blobtree.ErrConflict)
			data, err := s.Get(ctx, "dst2")
			require.NoError(t, err)
			assert.Equal(t, []byte("data"), data)
		}
	})
}
