package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/dropin/internal/ui"
	"github.com/sokinpui/dropin/model"
)

const response = "Sure:\n\n```go\n// pkg/hello.go\npackage pkg\n```\n"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, status bytes.Buffer
	prev := ui.Out
	ui.Out = &status
	t.Cleanup(func() { ui.Out = prev })

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&status)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func fixture(t *testing.T) (root, input string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root = t.TempDir()
	input = filepath.Join(t.TempDir(), "response.md")
	require.NoError(t, os.WriteFile(input, []byte(response), 0o644))
	return root, input
}

func TestParseCommand(t *testing.T) {
	root, input := fixture(t)
	out, err := run(t, "parse", "--root", root, "-i", input)
	require.NoError(t, err)

	var updates []model.FileUpdate
	require.NoError(t, json.Unmarshal([]byte(out), &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, "pkg/hello.go", updates[0].Path)
	assert.NoFileExists(t, filepath.Join(root, "pkg", "hello.go"))
}

func TestDiffCommandWritesNothing(t *testing.T) {
	root, input := fixture(t)
	out, err := run(t, "diff", "--root", root, "-i", input)
	require.NoError(t, err)
	assert.Contains(t, out, "pkg/hello.go")
	assert.Contains(t, out, "package pkg")
	assert.NoFileExists(t, filepath.Join(root, "pkg", "hello.go"))
}

func TestApplyThenUndo(t *testing.T) {
	root, input := fixture(t)
	_, err := run(t, "apply", "--root", root, "-i", input)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, "pkg", "hello.go"))
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(data))

	out, err := run(t, "history", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "pkg/hello.go")

	_, err = run(t, "undo", "--root", root)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "pkg", "hello.go"))
}

func TestYesSkipsReview(t *testing.T) {
	root, input := fixture(t)
	_, err := run(t, "--root", root, "-i", input, "--yes")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "pkg", "hello.go"))
}

func TestNoTUIOnlyPrints(t *testing.T) {
	root, input := fixture(t)
	out, err := run(t, "--root", root, "-i", input, "--no-tui")
	require.NoError(t, err)
	assert.Contains(t, out, "create pkg/hello.go")
	assert.NoFileExists(t, filepath.Join(root, "pkg", "hello.go"))
}

func TestInvalidConfig(t *testing.T) {
	root, input := fixture(t)
	_, err := run(t, "apply", "--root", root, "-i", input, "--workers", "0")
	assert.ErrorContains(t, err, "workers")
}
