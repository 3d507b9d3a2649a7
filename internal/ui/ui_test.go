package ui

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sokinpui/dropin/internal/diff"
	"github.com/sokinpui/dropin/model"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Out
	Out = &buf
	t.Cleanup(func() { Out = prev })
	return &buf
}

func TestPrintUpdateSummary(t *testing.T) {
	buf := capture(t)
	PrintUpdateSummary(model.Summary{
		Created:   []string{"new.go"},
		Modified:  []string{"old.go"},
		Failed:    []string{"../x"},
		Fallbacks: []model.Fallback{{Path: "ro.txt", Location: "/tmp/fb/ro.txt"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Created 1 new file(s)")
	assert.Contains(t, out, "  - new.go")
	assert.Contains(t, out, "Modified 1 file(s)")
	assert.Contains(t, out, "Failed to process 1 file(s)")
	assert.Contains(t, out, "ro.txt -> /tmp/fb/ro.txt")
}

func TestPrintUpdateSummaryEmpty(t *testing.T) {
	buf := capture(t)
	PrintUpdateSummary(model.Summary{})
	assert.Contains(t, buf.String(), "No files were updated.")
}

func TestPrintChangeSet(t *testing.T) {
	buf := capture(t)
	root := filepath.FromSlash("/work")
	cs := model.NewChangeSet()
	cs.At = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cs.Added[filepath.Join(root, "b.go")] = struct{}{}
	cs.Added[filepath.Join(root, "a.go")] = struct{}{}
	cs.Removed[filepath.Join(root, "gone.txt")] = struct{}{}
	PrintChangeSet(root, cs)

	out := buf.String()
	assert.Contains(t, out, "03:04:05")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("+ a.go")), bytes.Index(buf.Bytes(), []byte("+ b.go")))
	assert.Contains(t, out, "- gone.txt")
}

func TestRenderDiff(t *testing.T) {
	out := RenderDiff(diff.Compute("a\nb\n", "a\nc\n"))
	assert.Contains(t, out, "- b")
	assert.Contains(t, out, "+ c")
	assert.Contains(t, DiffStat(diff.Compute("a\nb\n", "a\nc\n")), "+1")
}
