// Package monitor detects files added, removed or modified under a root by
// comparing directory snapshots whenever the OS reports activity.
package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sokinpui/dropin/internal/logging"
	"github.com/sokinpui/dropin/model"
)

const (
	DefaultDebounce  = 300 * time.Millisecond
	DefaultExpectTTL = 5 * time.Second
)

// Callback receives every non-empty ChangeSet. It runs on the monitor's
// goroutine while the cycle lock is held, so it must not call Poll.
type Callback func(model.ChangeSet)

type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithExpectTTL sets how long an ExpectWrites registration stays active.
func WithExpectTTL(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.expectTTL = d
		}
	}
}

// WithNotifierFactory replaces the fsnotify notifier.
func WithNotifierFactory(f func() (Notifier, error)) Option {
	return func(m *Monitor) {
		if f != nil {
			m.newNotifier = f
		}
	}
}

// handle owns the notifier and closes it at most once, whether through
// Stop or through the GC cleanup.
type handle struct {
	n    Notifier
	once sync.Once
}

func (h *handle) release() {
	h.once.Do(func() {
		h.n.Close()
	})
}

// Monitor watches a root directory. Create it with New.
type Monitor struct {
	root        string
	callback    Callback
	logger      *slog.Logger
	debounce    time.Duration
	expectTTL   time.Duration
	newNotifier func() (Notifier, error)
	now         func() time.Time

	// nil when the monitor is inert
	handle  *handle
	cleanup runtime.Cleanup

	lifeMu  sync.Mutex
	err     error
	started bool
	done    chan struct{}
	stopped atomic.Bool

	cycleMu  sync.Mutex
	snapshot Snapshot

	expectMu sync.Mutex
	expected map[string]time.Time
}

// New takes the initial snapshot of root and acquires a notifier. If either
// fails the monitor is inert: Err reports why and no callback ever fires.
func New(root string, callback Callback, opts ...Option) *Monitor {
	m := &Monitor{
		callback:    callback,
		logger:      logging.Nop(),
		debounce:    DefaultDebounce,
		expectTTL:   DefaultExpectTTL,
		newNotifier: NewFSNotifier,
		now:         time.Now,
		expected:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "monitor")

	resolved, err := resolveRoot(root)
	if err != nil {
		m.fail(root, err)
		return m
	}
	m.root = resolved

	snap, err := Take(m.root)
	if err != nil {
		m.fail(root, err)
		return m
	}
	m.snapshot = snap

	n, err := m.newNotifier()
	if err != nil {
		m.fail(root, err)
		return m
	}
	m.handle = &handle{n: n}
	m.cleanup = runtime.AddCleanup(m, func(h *handle) { h.release() }, m.handle)

	m.logger.Debug("monitor ready", "root", m.root, "files", len(snap))
	return m
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

func (m *Monitor) fail(root string, err error) {
	m.err = fmt.Errorf("%w: %v", model.ErrWatcherInit, err)
	m.logger.Error("watcher unavailable", "root", root, "error", err)
}

// Root returns the resolved directory being watched.
func (m *Monitor) Root() string {
	return m.root
}

// Err returns the reason the monitor is inert, or nil.
func (m *Monitor) Err() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.err
}

// Start subscribes to notifications and starts the detection loop. It is a
// no-op on an inert, running or stopped monitor.
func (m *Monitor) Start() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.handle == nil || m.started || m.stopped.Load() {
		return
	}
	if err := m.handle.n.Watch(m.root); err != nil {
		m.err = fmt.Errorf("%w: %v", model.ErrWatcherInit, err)
		m.logger.Error("watch failed, falling back to manual refresh", "root", m.root, "error", err)
		return
	}
	m.started = true
	m.done = make(chan struct{})
	go m.loop(m.handle.n, m.done)
}

// Stop ends the detection loop and releases the notifier. It does not wait
// for an in-flight cycle, so it is safe to call from the callback.
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.stopped.Swap(true) {
		return
	}
	if m.done != nil {
		close(m.done)
	}
	if m.handle != nil {
		m.cleanup.Stop()
		m.handle.release()
	}
}

// Close is Stop.
func (m *Monitor) Close() error {
	m.Stop()
	return nil
}

// Poll runs one detection cycle now and returns what it found. The callback
// fires as it would for a notification.
func (m *Monitor) Poll() model.ChangeSet {
	if m.handle == nil {
		return model.NewChangeSet()
	}
	return m.cycle()
}

// ExpectWrites marks paths (relative to the root, or absolute) that are
// about to be written by this process. Changes to them and to their backup
// siblings are left out of the next ChangeSets.
func (m *Monitor) ExpectWrites(paths ...string) {
	if m.handle == nil {
		return
	}
	deadline := m.now().Add(m.expectTTL)

	m.expectMu.Lock()
	defer m.expectMu.Unlock()
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.root, filepath.FromSlash(p))
		}
		m.expected[filepath.Clean(p)] = deadline
	}
}

// ForgetWrites withdraws expectations for writes that did not happen.
func (m *Monitor) ForgetWrites(paths ...string) {
	m.expectMu.Lock()
	defer m.expectMu.Unlock()
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.root, filepath.FromSlash(p))
		}
		delete(m.expected, filepath.Clean(p))
	}
}

func (m *Monitor) loop(n Notifier, done <-chan struct{}) {
	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-done:
			return

		case ev, ok := <-n.Events():
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !skipName(filepath.Base(ev.Name), true) {
					if err := n.Watch(ev.Name); err != nil {
						m.logger.Warn("watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			timer.Reset(m.debounce)

		case err, ok := <-n.Errors():
			if !ok {
				return
			}
			m.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			m.cycle()
		}
	}
}

func (m *Monitor) cycle() model.ChangeSet {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	if m.stopped.Load() {
		return model.NewChangeSet()
	}

	next, err := Take(m.root)
	if err != nil {
		m.logger.Warn("snapshot failed", "root", m.root, "error", err)
		return model.NewChangeSet()
	}
	cs := Compare(m.snapshot, next)
	m.snapshot = next
	cs.At = m.now()

	m.suppressExpected(cs)
	if cs.Empty() {
		return cs
	}

	m.logger.Debug("changes detected", "added", len(cs.Added), "removed", len(cs.Removed), "modified", len(cs.Modified))
	if m.callback != nil {
		m.callback(cs)
	}
	return cs
}

// suppressExpected drops expected paths from cs. An expectation is consumed
// the first time its own path shows up; backup siblings do not consume it.
func (m *Monitor) suppressExpected(cs model.ChangeSet) {
	m.expectMu.Lock()
	defer m.expectMu.Unlock()

	now := m.now()
	for p, deadline := range m.expected {
		if now.After(deadline) {
			delete(m.expected, p)
		}
	}
	if len(m.expected) == 0 {
		return
	}

	seen := make(map[string]bool)
	for _, set := range []map[string]struct{}{cs.Added, cs.Removed, cs.Modified} {
		for path := range set {
			if exp, ok := m.match(path); ok {
				delete(set, path)
				if exp == path {
					seen[exp] = true
				}
			}
		}
	}
	for p := range seen {
		delete(m.expected, p)
	}
}

func (m *Monitor) match(path string) (string, bool) {
	if _, ok := m.expected[path]; ok {
		return path, true
	}
	dir, base := filepath.Split(path)
	if i := strings.Index(base, ".backup-"); i > 0 {
		orig := filepath.Join(dir, base[:i])
		if _, ok := m.expected[orig]; ok {
			return orig, true
		}
	}
	return "", false
}
