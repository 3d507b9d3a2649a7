// Package writer applies file updates under a bound root, refusing anything
// that would escape it and backing up every file before it changes.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/dropin/internal/fs"
	"github.com/sokinpui/dropin/internal/logging"
	"github.com/sokinpui/dropin/model"
)

const (
	DefaultWorkers     = 4
	DefaultMaxFileSize = 10 << 20

	backupInfix = ".backup-"
)

// Expecter is told about writes before they happen, so a change monitor
// watching the same tree can ignore them. ForgetWrites withdraws paths whose
// write failed.
type Expecter interface {
	ExpectWrites(paths ...string)
	ForgetWrites(paths ...string)
}

type Option func(*Writer)

func WithWorkers(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.workers = n
		}
	}
}

func WithMaxFileSize(n int64) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxFileSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithFallbackDir enables SaveFallback.
func WithFallbackDir(dir string) Option {
	return func(w *Writer) {
		w.fallbackDir = dir
	}
}

func WithExpecter(e Expecter) Option {
	return func(w *Writer) {
		w.expecter = e
	}
}

// Writer applies updates under one root. It is safe for concurrent use.
type Writer struct {
	root        *fs.Root
	workers     int
	maxFileSize int64
	logger      *slog.Logger
	fallbackDir string
	expecter    Expecter
	now         func() time.Time
	locks       keyedMutex
}

// New binds a writer to root, which must be an existing directory.
func New(root string, opts ...Option) (*Writer, error) {
	r, err := fs.NewRoot(root)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		root:        r,
		workers:     DefaultWorkers,
		maxFileSize: DefaultMaxFileSize,
		logger:      logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "writer")
	return w, nil
}

// Root returns the bound root.
func (w *Writer) Root() *fs.Root {
	return w.root
}

// MaxFileSize returns the write ceiling in bytes.
func (w *Writer) MaxFileSize() int64 {
	return w.maxFileSize
}

type outcome struct {
	skipped bool
	action  model.Operation
	backup  string
	err     error
}

// Apply writes every update on a bounded pool. A failing update never stops
// the others. If ctx is cancelled, updates not yet started are reported as
// skipped and already committed ones stay committed.
func (w *Writer) Apply(ctx context.Context, updates []model.FileUpdate) model.BatchResult {
	outcomes := make([]outcome, len(updates))
	var g errgroup.Group
	g.SetLimit(w.workers)

	for i, u := range updates {
		if ctx.Err() != nil {
			for j := i; j < len(updates); j++ {
				outcomes[j].skipped = true
			}
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i].skipped = true
				return nil
			}
			action, backup, err := w.ApplyOne(u)
			outcomes[i] = outcome{action: action, backup: backup, err: err}
			return nil
		})
	}
	g.Wait()

	res := model.BatchResult{
		Succeeded: []string{},
		Failed:    []model.UpdateFailure{},
		Backups:   make(map[string]string),
		Actions:   make(map[string]model.Operation),
	}
	for i, o := range outcomes {
		path := updates[i].Path
		switch {
		case o.skipped:
			res.Skipped = append(res.Skipped, path)
		case o.err != nil:
			res.Failed = append(res.Failed, model.UpdateFailure{Path: path, Err: o.err})
		default:
			res.Succeeded = append(res.Succeeded, path)
			res.Actions[path] = o.action
			if o.backup != "" {
				res.Backups[path] = o.backup
			}
		}
	}

	w.logger.Info("batch applied",
		"succeeded", len(res.Succeeded),
		"failed", len(res.Failed),
		"skipped", len(res.Skipped))
	return res
}

// ApplyOne validates and commits a single update. It returns what was done
// and the backup written, if any.
func (w *Writer) ApplyOne(u model.FileUpdate) (model.Operation, string, error) {
	action, backup, err := w.apply(u)
	if err != nil {
		w.logger.Warn("update failed", "path", u.Path, "error", err)
		return "", "", err
	}
	w.logger.Info("update applied", "path", u.Path, "action", action, "backup", backup)
	return action, backup, nil
}

func (w *Writer) apply(u model.FileUpdate) (model.Operation, string, error) {
	fail := func(kind, err error) (model.Operation, string, error) {
		return "", "", model.NewUpdateError(u.Path, kind, err)
	}

	dest, err := w.root.Resolve(u.Path)
	if err != nil {
		return fail(err, nil)
	}
	if u.Operation != model.OpDelete && int64(len(u.Content)) > w.maxFileSize {
		return fail(model.ErrFileTooLarge, fmt.Errorf("%d bytes, max %d", len(u.Content), w.maxFileSize))
	}

	parent, err := w.root.Confine(filepath.Dir(dest))
	if err != nil {
		return fail(classify(err), unwrapKind(err))
	}

	link := filepath.Join(parent, filepath.Base(dest))
	unlock := w.locks.lock(link)
	defer unlock()

	if u.Operation != model.OpDelete {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fail(model.ErrIO, err)
		}
	}

	final, info, err := w.destination(u.Path, link)
	if err != nil {
		return "", "", err
	}
	if final != link {
		// A symlink and its target are one file; serialize on the target too.
		unlockTarget := w.locks.lock(final)
		defer unlockTarget()
		if info, err = os.Stat(final); err != nil {
			return fail(model.ErrIO, err)
		}
	}
	if info != nil && info.IsDir() {
		return fail(model.ErrInvalidPath, errors.New("destination is a directory"))
	}
	if u.Operation == model.OpDelete && info == nil {
		return fail(model.ErrIO, fmt.Errorf("nothing to delete: %w", iofs.ErrNotExist))
	}

	w.expect(final)
	var backup string
	if info != nil {
		backup, err = w.backup(final, info.Mode().Perm())
		if err != nil {
			w.forget(final)
			return fail(model.ErrIO, err)
		}
	}

	if u.Operation == model.OpDelete {
		if err := os.Remove(final); err != nil {
			w.forget(final)
			return fail(model.ErrIO, err)
		}
		return model.OpDelete, backup, nil
	}

	perm := os.FileMode(0o644)
	action := model.OpCreate
	if info != nil {
		perm = info.Mode().Perm()
		action = model.OpUpdate
	}
	if err := fs.WriteFileAtomic(final, []byte(u.Content), perm); err != nil {
		w.forget(final)
		return fail(model.ErrIO, err)
	}
	return action, backup, nil
}

func (w *Writer) expect(path string) {
	if w.expecter != nil {
		w.expecter.ExpectWrites(path)
	}
}

func (w *Writer) forget(path string) {
	if w.expecter != nil {
		w.expecter.ForgetWrites(path)
	}
}

// destination resolves a symlinked destination to its target, which must
// exist and stay under the root. It returns nil info for a missing file.
func (w *Writer) destination(rel, path string) (string, os.FileInfo, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, iofs.ErrNotExist) {
		return path, nil, nil
	}
	if err != nil {
		return "", nil, model.NewUpdateError(rel, model.ErrIO, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return path, info, nil
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", nil, model.NewUpdateError(rel, model.ErrPathTraversal, errors.New("dangling symlink"))
	}
	if !w.root.Contains(target) {
		return "", nil, model.NewUpdateError(rel, model.ErrPathTraversal, nil)
	}
	info, err = os.Stat(target)
	if err != nil {
		return "", nil, model.NewUpdateError(rel, model.ErrIO, err)
	}
	return target, info, nil
}

// backup copies path to a fresh "<name>.backup-<token>" sibling and checks
// the copy hashes the same as the original.
func (w *Writer) backup(path string, perm os.FileMode) (string, error) {
	token := w.now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	dst := path + backupInfix + token

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("copy backup: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("sync backup: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close backup: %w", err)
	}

	want, err := fs.GetFileSHA256(path)
	if err != nil {
		os.Remove(dst)
		return "", err
	}
	got, err := fs.GetFileSHA256(dst)
	if err != nil || got != want {
		os.Remove(dst)
		return "", fmt.Errorf("backup of %s does not match the original", filepath.Base(path))
	}
	return dst, nil
}

// SaveFallback writes an update under the fallback directory instead of the
// root and returns where it went.
func (w *Writer) SaveFallback(u model.FileUpdate) (string, error) {
	if w.fallbackDir == "" {
		return "", errors.New("no fallback directory configured")
	}
	if u.Operation == model.OpDelete {
		return "", model.NewUpdateError(u.Path, model.ErrInvalidPath, errors.New("deletes have no fallback"))
	}
	if int64(len(u.Content)) > w.maxFileSize {
		return "", model.NewUpdateError(u.Path, model.ErrFileTooLarge, nil)
	}
	if err := os.MkdirAll(w.fallbackDir, 0o755); err != nil {
		return "", model.NewUpdateError(u.Path, model.ErrIO, err)
	}

	fb, err := fs.NewRoot(w.fallbackDir)
	if err != nil {
		return "", model.NewUpdateError(u.Path, model.ErrIO, err)
	}
	dest, err := fb.Resolve(u.Path)
	if err != nil {
		return "", model.NewUpdateError(u.Path, err, nil)
	}
	if _, err := fb.Confine(dest); err != nil {
		return "", model.NewUpdateError(u.Path, classify(err), unwrapKind(err))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", model.NewUpdateError(u.Path, model.ErrIO, err)
	}
	if err := fs.WriteFileAtomic(dest, []byte(u.Content), 0o644); err != nil {
		return "", model.NewUpdateError(u.Path, model.ErrIO, err)
	}
	w.logger.Info("update saved to fallback", "path", u.Path, "location", dest)
	return dest, nil
}

// classify maps an error to the sentinel kind it carries, defaulting to I/O.
func classify(err error) error {
	for _, kind := range []error{model.ErrPathTraversal, model.ErrInvalidPath, model.ErrFileTooLarge, model.ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return model.ErrIO
}

// unwrapKind keeps err as detail unless it is just the bare kind.
func unwrapKind(err error) error {
	if err == classify(err) {
		return nil
	}
	return err
}
