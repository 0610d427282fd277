package requests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/adapters"
	"github.com/brettbedarf/blobtree/config"
	"github.com/brettbedarf/blobtree/filesystem"
)

const yamlManifest = `
ops:
  - op: mkdir
    path: projects/2024
  - op: put
    path: drafts/notes.txt
    content: hello
    content_type: text/plain
  - op: put
    path: drafts/logo.bin
    content_base64: AAEC
  - op: mv
    src: drafts
    dest: projects/2024/drafts
  - op: rename
    path: projects/2024/drafts/notes.txt
    name: readme.txt
  - op: rm
    path: projects/2024/drafts/logo.bin
`

func newTestFS(t *testing.T) (*filesystem.FileSystem, *adapters.MemoryStore) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = time.Millisecond
	store := adapters.NewMemoryStore()
	return filesystem.NewFS(store, cfg), store
}

func TestUnmarshalManifest(t *testing.T) {
	t.Parallel()

	ops, err := UnmarshalManifest([]byte(yamlManifest), FormatYAML)
	require.NoError(t, err)
	require.Len(t, ops, 6)

	assert.Equal(t, MkdirOpType, ops[0].Type)
	assert.Equal(t, "projects/2024", ops[0].Path.Key())

	assert.Equal(t, []byte("hello"), ops[1].Data)
	assert.Equal(t, "text/plain", ops[1].ContentType)

	assert.Equal(t, []byte{0, 1, 2}, ops[2].Data)
	assert.Equal(t, DefaultContentType, ops[2].ContentType)

	assert.Equal(t, "drafts", ops[3].Path.Key())
	assert.Equal(t, "projects/2024/drafts", ops[3].Dest.Key())
	assert.Equal(t, "mv /drafts /projects/2024/drafts", ops[3].String())

	assert.Equal(t, "readme.txt", ops[4].Name)
	assert.False(t, ops[5].Recursive)

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		data := `{"ops":[{"op":"rm","path":"/tmp/","recursive":true}]}`
		ops, err := UnmarshalManifest([]byte(data), FormatJSON)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "tmp", ops[0].Path.Key())
		assert.True(t, ops[0].Recursive)
	})
}

func TestUnmarshalManifest_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing_op", `{"ops":[{"path":"a"}]}`, "op 0: missing op"},
		{"unknown_op", `{"ops":[{"op":"chmod","path":"a"}]}`, "unknown op: chmod"},
		{"root_path", `{"ops":[{"op":"rm","path":"/"}]}`, "must not be the root"},
		{"relative_segment", `{"ops":[{"op":"mkdir","path":"a/../b"}]}`, "relative segment"},
		{"bad_name", `{"ops":[{"op":"rename","path":"a","name":"x/y"}]}`, "separator"},
		{"both_contents", `{"ops":[{"op":"put","path":"a","content":"x","content_base64":"eA=="}]}`, "exclusive"},
		{"bad_base64", `{"ops":[{"op":"put","path":"a","content_base64":"!!"}]}`, "content_base64"},
		{"second_op", `{"ops":[{"op":"mkdir","path":"a"},{"op":"rename","path":"a"}]}`, "op 1:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := UnmarshalManifest([]byte(tt.data), FormatJSON)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := UnmarshalManifest([]byte(`ops: [`), FormatYAML)
	assert.Error(t, err)
	_, err = UnmarshalManifest([]byte(`{}`), "toml")
	assert.ErrorContains(t, err, "unknown manifest format")
}

func TestUnmarshalOp(t *testing.T) {
	t.Parallel()

	data := []byte(`{"op":"mv","src":"a","dest":"b","resume":true}`)
	typ, err := GetOpType(data)
	require.NoError(t, err)
	assert.Equal(t, MoveOpType, typ)

	op, err := UnmarshalOp(data)
	require.NoError(t, err)
	assert.True(t, op.Resume)
	assert.Equal(t, "b", op.Dest.Key())
}

func TestLoadManifestFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "ops.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlManifest), 0o644))
	ops, err := LoadManifestFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, ops, 6)

	txtPath := filepath.Join(dir, "ops.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte(yamlManifest), 0o644))
	_, err = LoadManifestFile(txtPath)
	assert.ErrorContains(t, err, "unknown manifest file extension")

	_, err = LoadManifestFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs, store := newTestFS(t)
	ops, err := UnmarshalManifest([]byte(yamlManifest), FormatYAML)
	require.NoError(t, err)

	outcomes, err := Apply(ctx, fs, ops, ApplyOptions{})
	require.NoError(t, err)
	require.Len(t, outcomes, len(ops))
	for _, o := range outcomes {
		assert.NoError(t, o.Err, o.Op.String())
	}
	assert.Nil(t, outcomes[0].Result)
	assert.Equal(t, []blobtree.BlobKey{"drafts/logo.bin", "drafts/notes.txt"}, outcomes[3].Result.Succeeded)

	assert.Equal(t, []string{
		"projects/2024/.folder",
		"projects/2024/drafts/readme.txt",
	}, store.Keys())

	data, err := fs.ReadFile(ctx, blobtree.MustParsePath("projects/2024/drafts/readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestApply_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ops := []Op{
		{Type: MkdirOpType, Path: blobtree.MustParsePath("a")},
		{Type: MkdirOpType, Path: blobtree.MustParsePath("a")},
		{Type: RemoveOpType, Path: blobtree.MustParsePath("a")},
		{Type: MkdirOpType, Path: blobtree.MustParsePath("b")},
	}

	t.Run("stop_at_first", func(t *testing.T) {
		t.Parallel()
		fs, store := newTestFS(t)
		outcomes, err := Apply(ctx, fs, ops, ApplyOptions{})
		assert.ErrorIs(t, err, blobtree.ErrConflict)
		assert.ErrorContains(t, err, "op 1 (mkdir /a)")
		assert.Len(t, outcomes, 2)
		assert.Equal(t, []string{"a/.folder"}, store.Keys())
	})

	t.Run("continue", func(t *testing.T) {
		t.Parallel()
		fs, store := newTestFS(t)
		outcomes, err := Apply(ctx, fs, ops, ApplyOptions{ContinueOnError: true})
		assert.ErrorIs(t, err, blobtree.ErrConflict)
		require.Len(t, outcomes, 4)
		assert.ErrorContains(t, outcomes[2].Err, "set recursive")
		assert.NoError(t, outcomes[3].Err)
		assert.Equal(t, []string{"a/.folder", "b/.folder"}, store.Keys())
	})

	t.Run("partial_counts_as_failure", func(t *testing.T) {
		t.Parallel()
		fs, store := newTestFS(t)
		require.NoError(t, store.Put(ctx, "d/x", nil, "text/plain"))
		store.SetFailFunc(func(op, key string) error {
			if op == adapters.OpRemove {
				return blobtree.NewStoreError(op, key, blobtree.ErrPermission, nil)
			}
			return nil
		})
		outcomes, err := Apply(ctx, fs, []Op{{Type: RemoveOpType, Path: blobtree.MustParsePath("d"), Recursive: true}}, ApplyOptions{})
		assert.ErrorIs(t, err, blobtree.ErrPartialFailure)
		assert.ErrorIs(t, err, blobtree.ErrPermission)
		require.Len(t, outcomes, 1)
		assert.Equal(t, []blobtree.BlobKey{"d/x"}, outcomes[0].Result.FailedKeys())
	})

	t.Run("missing_source", func(t *testing.T) {
		t.Parallel()
		fs, _ := newTestFS(t)
		_, err := Apply(ctx, fs, []Op{{Type: MoveOpType, Path: blobtree.MustParsePath("x"), Dest: blobtree.MustParsePath("y")}}, ApplyOptions{})
		assert.ErrorIs(t, err, blobtree.ErrNotFound)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		fs, store := newTestFS(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		outcomes, err := Apply(cctx, fs, ops, ApplyOptions{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, outcomes)
		assert.Empty(t, store.Keys())
	})
}
