package dropin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/dropin/cli"
	"github.com/sokinpui/dropin/internal/logging"
	"github.com/sokinpui/dropin/internal/source"
	"github.com/sokinpui/dropin/model"
)

func testConfig(t *testing.T) *cli.Config {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return &cli.Config{
		Root:         root,
		Workers:      2,
		MaxFileSize:  1 << 20,
		MaxDiffLines: 1000,
		Debounce:     20 * time.Millisecond,
		LogBuffer:    50,
	}
}

func newApp(t *testing.T, cfg *cli.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithRefresher(nil)}, opts...)
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

const response = "Here are the changes.\n\n" +
	"```go\nmain.go\npackage main\n\nfunc main() {}\n```\n\n" +
	"```python\n# tools/run.py\nprint('hi')\n```\n"

func TestPreviewAndApply(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "main.go"), []byte("package main\n"), 0o644))
	a := newApp(t, cfg)

	updates := a.Parse(response)
	require.Len(t, updates, 2)

	previews, err := a.Preview(context.Background(), updates)
	require.NoError(t, err)
	require.Len(t, previews, 2)
	assert.Equal(t, model.OpUpdate, previews[0].Action)
	added, removed := previews[0].Diff.Stats()
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, removed)
	assert.Equal(t, model.OpCreate, previews[1].Action)

	summary, res := a.Apply(context.Background(), updates)
	assert.Equal(t, []string{"main.go"}, summary.Modified)
	assert.Equal(t, []string{"tools/run.py"}, summary.Created)
	assert.Empty(t, summary.Failed)
	assert.Contains(t, res.Backups, "main.go")
	require.Len(t, a.History(), 1)
}

func TestApplyReportsFailuresWithPath(t *testing.T) {
	a := newApp(t, testConfig(t))
	summary, _ := a.Apply(context.Background(), []model.FileUpdate{
		{Path: "../outside.txt", Content: "x"},
		{Path: "inside.txt", Content: "y"},
	})
	require.Len(t, summary.Failed, 1)
	assert.True(t, strings.HasPrefix(summary.Failed[0], "../outside.txt"))
	assert.Equal(t, []string{"inside.txt"}, summary.Created)
}

func TestApplyFallsBackOnPermissionError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	cfg := testConfig(t)
	cfg.FallbackDir = filepath.Join(t.TempDir(), "rescued")
	locked := filepath.Join(cfg.Root, "locked")
	require.NoError(t, os.Mkdir(locked, 0o555))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	a := newApp(t, cfg)
	summary, res := a.Apply(context.Background(), []model.FileUpdate{{Path: "locked/a.txt", Content: "data"}})

	require.Len(t, res.Failed, 1)
	require.Len(t, summary.Fallbacks, 1)
	data, err := os.ReadFile(summary.Fallbacks[0].Location)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestUndo(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg)

	summary, err := a.Undo()
	require.NoError(t, err)
	assert.Equal(t, "No operation to undo.", summary.Message)

	a.Apply(context.Background(), []model.FileUpdate{{Path: "new.txt", Content: "x"}})
	summary, err = a.Undo()
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, summary.Deleted)
	assert.NoFileExists(t, filepath.Join(cfg.Root, "new.txt"))
}

func TestExecuteReadsSource(t *testing.T) {
	cfg := testConfig(t)
	src := &source.Provider{
		Stdin:      strings.NewReader(response),
		StdinPiped: func() bool { return true },
	}
	a := newApp(t, cfg, WithSource(src))

	summary, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", "tools/run.py"}, summary.Created)
}

func TestExecuteEmptySource(t *testing.T) {
	src := &source.Provider{Stdin: strings.NewReader(" "), StdinPiped: func() bool { return true }}
	a := newApp(t, testConfig(t), WithSource(src))
	summary, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary.Message, "empty")
}

func TestRefresherCalledAfterApply(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "gone.txt"), []byte("x"), 0o644))

	var got []string
	a := newApp(t, cfg, WithRefresher(func(deleted []string) error {
		got = deleted
		return errors.New("editor went away")
	}))
	a.Apply(context.Background(), []model.FileUpdate{{Path: "gone.txt", Operation: model.OpDelete}})
	assert.Equal(t, []string{filepath.Join(cfg.Root, "gone.txt")}, got)
}

func TestMonitorIgnoresOwnWrites(t *testing.T) {
	cfg := testConfig(t)
	buf := logging.NewBuffer(50)
	a := newApp(t, cfg, WithLogger(logging.New(buf, 0, nil), buf))

	var mu sync.Mutex
	var records []ChangeRecord
	require.NoError(t, a.StartMonitor(func(rec ChangeRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, rec)
	}))

	a.Apply(context.Background(), []model.FileUpdate{{Path: "generated.go", Content: "package x"}})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "manual.txt"), []byte("by hand"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range records {
			for _, p := range r.Added {
				if p == "manual.txt" {
					return true
				}
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, r := range records {
		assert.NotContains(t, r.Added, "generated.go")
	}
	assert.NotEmpty(t, a.RecentChanges())
	assert.NotEmpty(t, a.Logs().Events())
}

func TestFailedDeleteDoesNotHideExternalChange(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg)
	require.NoError(t, a.StartMonitor(nil))

	_, res := a.Apply(context.Background(), []model.FileUpdate{{Path: "later.txt", Operation: model.OpDelete}})
	require.Len(t, res.Failed, 1)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "later.txt"), []byte("by hand"), 0o644))
	require.Eventually(t, func() bool {
		for _, r := range a.RecentChanges() {
			for _, p := range r.Added {
				if p == "later.txt" {
					return true
				}
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewLeavesRootUntouched(t *testing.T) {
	cfg := testConfig(t)
	newApp(t, cfg)
	entries, err := os.ReadDir(cfg.Root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefreshWithoutMonitor(t *testing.T) {
	a := newApp(t, testConfig(t))
	_, ok := a.Refresh()
	assert.False(t, ok)
}
