// Package dropin ties the parser, diff engine, writer and change monitor
// together into the operations the CLI, TUI and HTTP API expose.
package dropin

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sokinpui/dropin/cli"
	"github.com/sokinpui/dropin/internal/diff"
	"github.com/sokinpui/dropin/internal/logging"
	"github.com/sokinpui/dropin/internal/monitor"
	"github.com/sokinpui/dropin/internal/nvim"
	"github.com/sokinpui/dropin/internal/parser"
	"github.com/sokinpui/dropin/internal/source"
	"github.com/sokinpui/dropin/internal/state"
	"github.com/sokinpui/dropin/internal/writer"
	"github.com/sokinpui/dropin/model"
)

const maxRecentChanges = 100

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error {
	return e.Err
}

// ChangeRecord is a ChangeSet with root-relative, sorted paths.
type ChangeRecord struct {
	At       time.Time `json:"at"`
	Added    []string  `json:"added"`
	Removed  []string  `json:"removed"`
	Modified []string  `json:"modified"`
}

type Option func(*App)

// WithLogger sets the logger and the buffer it records into, so Logs can
// return them.
func WithLogger(logger *slog.Logger, buf *logging.Buffer) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
		if buf != nil {
			a.logs = buf
		}
	}
}

func WithSource(p *source.Provider) Option {
	return func(a *App) {
		if p != nil {
			a.source = p
		}
	}
}

// WithRefresher replaces the editor refresh run after every apply.
func WithRefresher(f func(deleted []string) error) Option {
	return func(a *App) {
		a.refresh = f
	}
}

// App orchestrates the entire application logic.
type App struct {
	cfg     *cli.Config
	logger  *slog.Logger
	logs    *logging.Buffer
	source  *source.Provider
	writer  *writer.Writer
	diff    diff.Engine
	state   *state.Manager
	refresh func(deleted []string) error

	monMu   sync.Mutex
	monitor *monitor.Monitor
	recent  []ChangeRecord
}

// New creates a new App bound to cfg.Root.
func New(cfg *cli.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logging.Nop(),
		logs:    logging.NewBuffer(cfg.LogBuffer),
		source:  source.New(),
		diff:    diff.Engine{MaxLines: cfg.MaxDiffLines},
		refresh: nvim.Refresh,
	}
	for _, opt := range opts {
		opt(a)
	}

	w, err := writer.New(cfg.Root,
		writer.WithWorkers(cfg.Workers),
		writer.WithMaxFileSize(cfg.MaxFileSize),
		writer.WithFallbackDir(cfg.FallbackDir),
		writer.WithLogger(a.logger),
		writer.WithExpecter(a),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind root: %w", err)
	}
	a.writer = w

	st, err := state.New(w.Root(), state.WithLogger(a.logger), state.WithExpecter(a))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	a.state = st
	a.source.MaxSize = cfg.MaxFileSize
	return a, nil
}

// Config returns the configuration the app runs with.
func (a *App) Config() *cli.Config {
	return a.cfg
}

// Root returns the absolute bound root.
func (a *App) Root() string {
	return a.writer.Root().Path()
}

// Logs returns the in-memory log buffer.
func (a *App) Logs() *logging.Buffer {
	return a.logs
}

// ReadInput reads the response text from the configured source.
func (a *App) ReadInput() (string, string, error) {
	return a.source.Read(a.cfg.Input)
}

// Parse extracts file updates from a response, keeping only the configured
// extensions.
func (a *App) Parse(content string) []model.FileUpdate {
	updates := parser.FilterExtensions(parser.Parse(content), a.cfg.Extensions)
	a.logger.Debug("parsed response", "updates", len(updates))
	return updates
}

// Preview diffs every update against the file currently on disk.
func (a *App) Preview(ctx context.Context, updates []model.FileUpdate) ([]model.Preview, error) {
	previews := make([]model.Preview, len(updates))
	items := make([]diff.Item, len(updates))
	root := a.writer.Root()

	for i, u := range updates {
		previews[i] = model.Preview{Update: u, Action: root.Classify(u.Path, u.Operation)}
		items[i] = diff.Item{Path: u.Path, New: u.Content}
		if u.Operation == model.OpDelete {
			items[i].New = ""
		}

		current, err := root.ReadFile(u.Path, a.writer.MaxFileSize())
		switch {
		case err == nil:
			items[i].Old = current
		case errors.Is(err, iofs.ErrNotExist):
		default:
			previews[i].Err = err.Error()
		}
	}

	diffs, err := a.diff.ComputeAll(ctx, items, a.cfg.Workers)
	if err != nil {
		return nil, err
	}
	for i := range previews {
		if previews[i].Err == "" {
			previews[i].Diff = diffs[i]
		}
	}
	return previews, nil
}

// Apply writes updates, records the batch for undo, saves permission
// failures to the fallback directory and asks the editor to reload.
func (a *App) Apply(ctx context.Context, updates []model.FileUpdate) (model.Summary, model.BatchResult) {
	res := a.writer.Apply(ctx, updates)

	var fallbacks []model.Fallback
	if a.cfg.FallbackDir != "" {
		byPath := make(map[string]model.FileUpdate, len(updates))
		for _, u := range updates {
			byPath[u.Path] = u
		}
		for _, f := range res.Failed {
			if !errors.Is(f.Err, iofs.ErrPermission) {
				continue
			}
			loc, err := a.writer.SaveFallback(byPath[f.Path])
			if err != nil {
				a.logger.Warn("fallback failed", "path", f.Path, "error", err)
				continue
			}
			fallbacks = append(fallbacks, model.Fallback{Path: f.Path, Location: loc})
		}
	}

	if len(res.Succeeded) > 0 {
		if _, err := a.state.Write(a.state.CreateOperations(res)); err != nil {
			a.logger.Warn("history not recorded", "error", err)
		}
		a.reloadEditor(res)
	}

	summary := summarize(res)
	summary.Fallbacks = fallbacks
	return summary, res
}

func (a *App) reloadEditor(res model.BatchResult) {
	if a.refresh == nil {
		return
	}
	var deleted []string
	for _, p := range res.Succeeded {
		if res.Actions[p] == model.OpDelete {
			if abs, err := a.writer.Root().Resolve(p); err == nil {
				deleted = append(deleted, abs)
			}
		}
	}
	if err := a.refresh(deleted); err != nil && !errors.Is(err, nvim.ErrNoInstance) {
		a.logger.Warn("editor refresh failed", "error", err)
	}
}

func summarize(res model.BatchResult) model.Summary {
	s := model.Summary{}
	for _, p := range res.Succeeded {
		switch res.Actions[p] {
		case model.OpCreate:
			s.Created = append(s.Created, p)
		case model.OpDelete:
			s.Deleted = append(s.Deleted, p)
		default:
			s.Modified = append(s.Modified, p)
		}
	}
	for _, f := range res.Failed {
		msg := f.Err.Error()
		if !strings.HasPrefix(msg, f.Path) {
			msg = f.Path + ": " + msg
		}
		s.Failed = append(s.Failed, msg)
	}
	if len(res.Skipped) > 0 {
		s.Message = fmt.Sprintf("Cancelled: %d update(s) skipped.", len(res.Skipped))
	}
	return s
}

// Undo reverts the last applied batch.
func (a *App) Undo() (model.Summary, error) {
	res, err := a.state.Undo()
	if errors.Is(err, state.ErrNothingToUndo) {
		return model.Summary{Message: "No operation to undo."}, nil
	}
	if err != nil {
		return model.Summary{}, err
	}
	summary := model.Summary{
		Modified: res.Restored,
		Deleted:  res.Removed,
		Failed:   res.Conflicts,
		Message:  "Undid last operation.",
	}
	if a.refresh != nil {
		if err := a.refresh(nil); err != nil && !errors.Is(err, nvim.ErrNoInstance) {
			a.logger.Warn("editor refresh failed", "error", err)
		}
	}
	return summary, nil
}

// History returns the applied batches that can still be undone.
func (a *App) History() []state.HistoryEntry {
	return a.state.History()
}

// Execute reads the input, parses it and applies every update without
// review.
func (a *App) Execute(ctx context.Context) (summary model.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	content, origin, err := a.ReadInput()
	if errors.Is(err, source.ErrEmpty) {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}
	if err != nil {
		return model.Summary{}, err
	}
	a.logger.Info("read input", "origin", origin, "bytes", len(content))

	updates := a.Parse(content)
	if len(updates) == 0 {
		return model.Summary{Message: "No file updates found. Nothing to do."}, nil
	}
	summary, _ = a.Apply(ctx, updates)
	return summary, nil
}

// ExpectWrites forwards to the running monitor, if any.
func (a *App) ExpectWrites(paths ...string) {
	a.monMu.Lock()
	m := a.monitor
	a.monMu.Unlock()
	if m != nil {
		m.ExpectWrites(paths...)
	}
}

// ForgetWrites forwards to the running monitor, if any.
func (a *App) ForgetWrites(paths ...string) {
	a.monMu.Lock()
	m := a.monitor
	a.monMu.Unlock()
	if m != nil {
		m.ForgetWrites(paths...)
	}
}

// StartMonitor starts watching the root. Every ChangeSet is recorded for
// RecentChanges and passed to cb, which may be nil. An inert monitor is
// kept for manual refresh and its error returned.
func (a *App) StartMonitor(cb func(ChangeRecord)) error {
	a.monMu.Lock()
	defer a.monMu.Unlock()
	if a.monitor != nil {
		return a.monitor.Err()
	}

	root := a.Root()
	m := monitor.New(root, func(cs model.ChangeSet) {
		rec := a.record(root, cs)
		if cb != nil {
			cb(rec)
		}
	}, monitor.WithDebounce(a.cfg.Debounce), monitor.WithLogger(a.logger))
	m.Start()
	a.monitor = m
	return m.Err()
}

// StopMonitor stops the running monitor.
func (a *App) StopMonitor() {
	a.monMu.Lock()
	m := a.monitor
	a.monitor = nil
	a.monMu.Unlock()
	if m != nil {
		m.Stop()
	}
}

// Refresh runs one detection cycle now. It returns false when no monitor is
// running.
func (a *App) Refresh() (ChangeRecord, bool) {
	a.monMu.Lock()
	m := a.monitor
	a.monMu.Unlock()
	if m == nil {
		return ChangeRecord{}, false
	}
	return toRecord(a.Root(), m.Poll()), true
}

// Watch runs the monitor until ctx is done.
func (a *App) Watch(ctx context.Context, cb func(ChangeRecord)) error {
	if err := a.StartMonitor(cb); err != nil {
		a.StopMonitor()
		return err
	}
	<-ctx.Done()
	a.StopMonitor()
	return nil
}

// RecentChanges returns the last recorded change sets, oldest first.
func (a *App) RecentChanges() []ChangeRecord {
	a.monMu.Lock()
	defer a.monMu.Unlock()
	out := make([]ChangeRecord, len(a.recent))
	copy(out, a.recent)
	return out
}

func (a *App) record(root string, cs model.ChangeSet) ChangeRecord {
	rec := toRecord(root, cs)
	a.monMu.Lock()
	defer a.monMu.Unlock()
	a.recent = append(a.recent, rec)
	if len(a.recent) > maxRecentChanges {
		a.recent = a.recent[len(a.recent)-maxRecentChanges:]
	}
	return rec
}

func toRecord(root string, cs model.ChangeSet) ChangeRecord {
	rel := func(set map[string]struct{}) []string {
		out := make([]string, 0, len(set))
		for p := range set {
			out = append(out, relPath(root, p))
		}
		sort.Strings(out)
		return out
	}
	return ChangeRecord{At: cs.At, Added: rel(cs.Added), Removed: rel(cs.Removed), Modified: rel(cs.Modified)}
}

// Close stops the monitor.
func (a *App) Close() error {
	a.StopMonitor()
	return nil
}

func relPath(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}
