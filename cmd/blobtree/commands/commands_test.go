package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/blobtree"
)

// newTestConfig writes a config selecting a badger store in a temp dir.
func newTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
log_level: 1
retry_base_delay_ms: 1
retry_max_delay_ms: 1
store:
  type: badger
  path: %s
`, filepath.Join(dir, "db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), append([]string{"--config", cfgPath}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	out, err := run(t, cfgPath, args...)
	require.NoError(t, err, "blobtree %v", args)
	return out
}

func TestCommands_Workflow(t *testing.T) {
	cfgPath := newTestConfig(t)
	local := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(local, []byte("quarterly numbers"), 0o644))

	mustRun(t, cfgPath, "mkdir", "docs")
	mustRun(t, cfgPath, "put", local, "docs/report.txt")

	_, err := run(t, cfgPath, "put", local, "docs/report.txt")
	assert.ErrorIs(t, err, blobtree.ErrConflict)

	out := mustRun(t, cfgPath, "ls", "docs")
	assert.Contains(t, out, "report.txt")
	assert.Contains(t, out, "17")

	out = mustRun(t, cfgPath, "stat", "docs/report.txt")
	assert.Contains(t, out, "text/plain")

	assert.Equal(t, "quarterly numbers", mustRun(t, cfgPath, "cat", "/docs/report.txt"))

	out = mustRun(t, cfgPath, "mv", "docs", "archive/2024")
	assert.Contains(t, out, "0 failed")

	out = mustRun(t, cfgPath, "tree")
	assert.Contains(t, out, "archive/\n")
	assert.Contains(t, out, "archive/2024/report.txt\n")
	assert.Contains(t, out, "2 folders, 1 files")

	out = mustRun(t, cfgPath, "tree", "--depth", "1")
	assert.NotContains(t, out, "archive/2024/")

	mustRun(t, cfgPath, "rename", "archive/2024/report.txt", "q4.txt")
	assert.Equal(t, "quarterly numbers", mustRun(t, cfgPath, "cat", "archive/2024/q4.txt"))

	_, err = run(t, cfgPath, "rm", "archive")
	assert.ErrorContains(t, err, "use -r")

	out = mustRun(t, cfgPath, "rm", "-r", "-y", "archive")
	assert.Contains(t, out, "delete: 2 succeeded, 0 failed")

	assert.Contains(t, mustRun(t, cfgPath, "ls"), "No entries.")
	_, err = run(t, cfgPath, "ls", "archive")
	assert.ErrorIs(t, err, blobtree.ErrNotFound)
}

func TestCommands_Apply(t *testing.T) {
	cfgPath := newTestConfig(t)
	manifest := filepath.Join(t.TempDir(), "ops.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
ops:
  - op: put
    path: inbox/a.txt
    content: a
  - op: mkdir
    path: inbox
  - op: mkdir
    path: done
`), 0o644))

	out, err := run(t, cfgPath, "apply", manifest)
	assert.ErrorIs(t, err, blobtree.ErrConflict)
	assert.Contains(t, out, "put /inbox/a.txt")
	assert.Contains(t, out, "1 operations not run")

	out, err = run(t, cfgPath, "apply", "--continue-on-error", manifest)
	assert.ErrorIs(t, err, blobtree.ErrConflict)
	assert.NotContains(t, out, "not run")

	out = mustRun(t, cfgPath, "ls")
	assert.Contains(t, out, "done/")
	assert.Contains(t, out, "inbox/")
}

func TestCommands_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"workers": 0}`), 0o644))

	_, err := run(t, path, "ls")
	assert.ErrorContains(t, err, "Workers")

	_, err = run(t, filepath.Join(t.TempDir(), "missing.yaml"), "ls")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	res := &blobtree.OperationResult{
		Succeeded: []blobtree.BlobKey{"a/1"},
		Failed:    []blobtree.KeyFailure{{Key: "a/2", Err: errors.New("denied")}},
		Warning:   blobtree.WarningPartial,
	}

	err := printResult(&buf, "delete", res)
	assert.ErrorIs(t, err, blobtree.ErrPartialFailure)
	assert.Contains(t, buf.String(), "delete: 1 succeeded, 1 failed")
	assert.Contains(t, buf.String(), "a/2")
	assert.Contains(t, buf.String(), "denied")

	ok, err := confirm("unused", true)
	require.NoError(t, err)
	assert.True(t, ok)
}
