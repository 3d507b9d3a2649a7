package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/dropin/model"
)

func newWriter(t *testing.T, opts ...Option) (*Writer, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	w, err := New(dir, opts...)
	require.NoError(t, err)
	return w, dir
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func backups(t *testing.T, dir, name string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, name+backupInfix+"*"))
	require.NoError(t, err)
	return matches
}

func TestApplyRejectsTraversalButWritesSibling(t *testing.T) {
	w, dir := newWriter(t)

	res := w.Apply(context.Background(), []model.FileUpdate{
		{Path: "../../etc/passwd", Content: "pwned"},
		{Path: "src/ok.txt", Content: "fine"},
	})

	assert.Equal(t, []string{"src/ok.txt"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "../../etc/passwd", res.Failed[0].Path)
	assert.ErrorIs(t, res.Failed[0].Err, model.ErrPathTraversal)
	assert.Equal(t, "fine", read(t, filepath.Join(dir, "src", "ok.txt")))
	assert.Equal(t, model.OpCreate, res.Actions["src/ok.txt"])
	assert.Empty(t, res.Skipped)
}

func TestApplyRejectsInvalidPaths(t *testing.T) {
	w, _ := newWriter(t)
	for _, p := range []string{"", "/etc/hosts", `a\..\..\b`, "./x", "a/./b"} {
		_, _, err := w.ApplyOne(model.FileUpdate{Path: p, Content: "x"})
		require.Error(t, err, "path %q", p)
	}
}

func TestApplyBackupIsByteIdentical(t *testing.T) {
	w, dir := newWriter(t)
	original := []byte("line one\r\n\x00\xff binary tail")
	target := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(target, original, 0o600))

	res := w.Apply(context.Background(), []model.FileUpdate{{Path: "data.bin", Content: "replacement"}})
	require.Equal(t, []string{"data.bin"}, res.Succeeded)
	assert.Equal(t, model.OpUpdate, res.Actions["data.bin"])

	backup := res.Backups["data.bin"]
	require.NotEmpty(t, backup)
	assert.True(t, strings.HasPrefix(filepath.Base(backup), "data.bin.backup-"))
	assert.Equal(t, string(original), read(t, backup))
	assert.Equal(t, "replacement", read(t, target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestApplyDelete(t *testing.T) {
	w, dir := newWriter(t)
	target := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(target, []byte("bye"), 0o644))

	res := w.Apply(context.Background(), []model.FileUpdate{
		{Path: "old.txt", Operation: model.OpDelete},
		{Path: "missing.txt", Operation: model.OpDelete},
	})

	assert.Equal(t, []string{"old.txt"}, res.Succeeded)
	assert.Equal(t, model.OpDelete, res.Actions["old.txt"])
	assert.NoFileExists(t, target)
	assert.Equal(t, "bye", read(t, res.Backups["old.txt"]))

	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing.txt", res.Failed[0].Path)
	assert.ErrorIs(t, res.Failed[0].Err, os.ErrNotExist)
}

func TestApplyTooLarge(t *testing.T) {
	w, dir := newWriter(t, WithMaxFileSize(4))
	res := w.Apply(context.Background(), []model.FileUpdate{{Path: "big.txt", Content: "12345"}})

	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, model.ErrFileTooLarge)
	assert.NoFileExists(t, filepath.Join(dir, "big.txt"))
}

func TestApplySymlinkedDirectoryEscape(t *testing.T) {
	w, dir := newWriter(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	res := w.Apply(context.Background(), []model.FileUpdate{{Path: "link/sub/x.txt", Content: "x"}})

	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, model.ErrPathTraversal)
	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be created outside the root")
}

func TestApplySymlinkedFileEscape(t *testing.T) {
	w, dir := newWriter(t)
	outside := filepath.Join(t.TempDir(), "target.txt")
	require.NoError(t, os.WriteFile(outside, []byte("safe"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "evil.txt")))

	res := w.Apply(context.Background(), []model.FileUpdate{{Path: "evil.txt", Content: "x"}})

	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, model.ErrPathTraversal)
	assert.Equal(t, "safe", read(t, outside))
}

func TestApplyConcurrentSamePath(t *testing.T) {
	w, dir := newWriter(t, WithWorkers(8))
	target := filepath.Join(dir, "shared.txt")
	require.NoError(t, os.WriteFile(target, []byte("start"), 0o644))

	var updates []model.FileUpdate
	want := make(map[string]bool)
	for i := 0; i < 20; i++ {
		content := fmt.Sprintf("version %d", i)
		want[content] = true
		updates = append(updates, model.FileUpdate{Path: "shared.txt", Content: content})
	}

	res := w.Apply(context.Background(), updates)
	assert.Len(t, res.Succeeded, 20)
	assert.Empty(t, res.Failed)
	assert.True(t, want[read(t, target)])
	assert.Len(t, backups(t, dir, "shared.txt"), 20)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestApplyCancelledSkipsEverything(t *testing.T) {
	w, dir := newWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := w.Apply(ctx, []model.FileUpdate{{Path: "a.txt", Content: "a"}, {Path: "b.txt", Content: "b"}})

	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Skipped)
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))
}

type recorder struct {
	mu      sync.Mutex
	paths   []string
	pending map[string]bool
}

func (r *recorder) ExpectWrites(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, paths...)
	if r.pending == nil {
		r.pending = make(map[string]bool)
	}
	for _, p := range paths {
		r.pending[p] = true
	}
}

func (r *recorder) ForgetWrites(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range paths {
		delete(r.pending, p)
	}
}

func TestApplyAnnouncesWrites(t *testing.T) {
	rec := &recorder{}
	w, dir := newWriter(t, WithExpecter(rec))

	w.Apply(context.Background(), []model.FileUpdate{{Path: "pkg/a.go", Content: "package pkg"}})
	assert.Equal(t, []string{filepath.Join(dir, "pkg", "a.go")}, rec.paths)
}

func TestFailedDeleteAnnouncesNothing(t *testing.T) {
	rec := &recorder{}
	w, _ := newWriter(t, WithExpecter(rec))

	res := w.Apply(context.Background(), []model.FileUpdate{{Path: "missing.txt", Operation: model.OpDelete}})
	require.Len(t, res.Failed, 1)
	assert.Empty(t, rec.paths)
}

func TestFailedWriteWithdrawsExpectation(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	rec := &recorder{}
	w, dir := newWriter(t, WithExpecter(rec))
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o555))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	res := w.Apply(context.Background(), []model.FileUpdate{{Path: "locked/a.txt", Content: "x"}})
	require.Len(t, res.Failed, 1)
	assert.Equal(t, []string{filepath.Join(locked, "a.txt")}, rec.paths)
	assert.Empty(t, rec.pending)
}

func TestSymlinkAndTargetAreSerialized(t *testing.T) {
	w, dir := newWriter(t, WithWorkers(8))
	write(t, filepath.Join(dir, "real.txt"), "start")
	require.NoError(t, os.Symlink("real.txt", filepath.Join(dir, "link.txt")))

	var updates []model.FileUpdate
	for i := 0; i < 10; i++ {
		updates = append(updates,
			model.FileUpdate{Path: "link.txt", Content: fmt.Sprintf("via link %d", i)},
			model.FileUpdate{Path: "real.txt", Content: fmt.Sprintf("direct %d", i)},
		)
	}
	res := w.Apply(context.Background(), updates)
	require.Empty(t, res.Failed)

	backups, err := filepath.Glob(filepath.Join(dir, "real.txt.backup-*"))
	require.NoError(t, err)
	assert.Len(t, backups, 20)
	tmps, err := filepath.Glob(filepath.Join(dir, ".real.txt.*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmps)
	assert.Equal(t, "symlink", kind(t, filepath.Join(dir, "link.txt")))
}

func kind(t *testing.T, path string) string {
	t.Helper()
	info, err := os.Lstat(path)
	require.NoError(t, err)
	if info.Mode()&os.ModeSymlink != 0 {
		return "symlink"
	}
	return "file"
}

func TestSaveFallback(t *testing.T) {
	fallback := t.TempDir()
	w, _ := newWriter(t, WithFallbackDir(filepath.Join(fallback, "rescued")))

	loc, err := w.SaveFallback(model.FileUpdate{Path: "src/a.go", Content: "package src"})
	require.NoError(t, err)
	assert.Equal(t, "package src", read(t, loc))
	assert.Equal(t, filepath.Join("src", "a.go"), strings.TrimPrefix(loc, filepath.Join(mustEval(t, fallback), "rescued")+string(filepath.Separator)))

	_, err = w.SaveFallback(model.FileUpdate{Path: "../escape.go", Content: "x"})
	assert.ErrorIs(t, err, model.ErrPathTraversal)
}

func TestSaveFallbackDisabled(t *testing.T) {
	w, _ := newWriter(t)
	_, err := w.SaveFallback(model.FileUpdate{Path: "a.go"})
	assert.Error(t, err)
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	out, err := filepath.EvalSymlinks(p)
	require.NoError(t, err)
	return out
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("key")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}
