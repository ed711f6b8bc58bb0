package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/vein/internal/testutil"
)

func writeDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string][]map[string]any{
		"region=eu/part-0.jsonl": {{"id": 1, "name": "ada"}, {"id": 2, "name": "bob"}},
		"region=us/part-0.jsonl": {{"id": 3, "name": "cy"}},
	}
	for rel, records := range files {
		data, err := testutil.JSONLBytes(records)
		require.NoError(t, err)
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestSchemaCommand(t *testing.T) {
	root := writeDataset(t)

	out, err := run(t, "schema", root)
	require.NoError(t, err)
	for _, want := range []string{"id", "int64", "name", "string", "region"} {
		assert.Contains(t, out, want)
	}
}

func TestScanCommand_FilterAndProject(t *testing.T) {
	root := writeDataset(t)

	out, err := run(t, "scan", root, "--eq", "region=eu", "--columns", "name,region", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "ada")
	assert.Contains(t, out, "bob")
	assert.NotContains(t, out, "cy")
	assert.Contains(t, out, "2 rows")
	assert.False(t, strings.Contains(out, " id "), "id should be projected away:\n%s", out)
}

func TestScanCommand_Errors(t *testing.T) {
	root := writeDataset(t)

	_, err := run(t, "scan", root, "--columns", "missing")
	assert.Error(t, err)

	_, err = run(t, "scan", root, "--eq", "id=notanumber")
	assert.Error(t, err)

	_, err = run(t, "scan", t.TempDir())
	assert.Error(t, err, "empty directory has no data files")

	_, err = run(t, "scan", root, "--partitioning", "range")
	assert.Error(t, err)
}
