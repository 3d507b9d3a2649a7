package state

import (
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sokinpui/dropin/internal/fs"
	"github.com/sokinpui/dropin/internal/logging"
	"github.com/sokinpui/dropin/model"
)

const (
	stateDirName  = ".dropin"
	stateFileName = "state.json"
)

// ErrNothingToUndo is returned by Undo when the history is exhausted.
var ErrNothingToUndo = errors.New("nothing to undo")

// Operation records what one applied update did to a file.
type Operation struct {
	Path   string          `json:"path"`
	Action model.Operation `json:"action"`
	// Backup is the absolute path of the copy taken before the change.
	Backup string `json:"backup,omitempty"`
	// ContentHash is the SHA-256 of the file right after the change; empty
	// for deletes.
	ContentHash string `json:"content_hash,omitempty"`
}

// HistoryEntry represents one applied batch.
type HistoryEntry struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Operations []Operation `json:"operations"`
}

// State represents the entire state file.
type State struct {
	History      []HistoryEntry `json:"history"`
	CurrentIndex int            `json:"current_index"`
}

// Expecter is told about files undo is about to touch.
type Expecter interface {
	ExpectWrites(paths ...string)
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithExpecter(e Expecter) Option {
	return func(m *Manager) {
		m.expecter = e
	}
}

// Manager handles the lifecycle of the state file.
type Manager struct {
	mu        sync.Mutex
	root      *fs.Root
	statePath string
	state     *State
	StateDir  string
	logger    *slog.Logger
	expecter  Expecter
}

// New loads the state kept under root. A missing or unreadable state file
// starts an empty history. The state directory is only created by the first
// save.
func New(root *fs.Root, opts ...Option) (*Manager, error) {
	stateDir := filepath.Join(root.Path(), stateDirName)
	m := &Manager{
		root:      root,
		statePath: filepath.Join(stateDir, stateFileName),
		StateDir:  stateDir,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "state")

	if err := m.load(); err != nil {
		m.logger.Warn("state file unreadable, starting fresh", "path", m.statePath, "error", err)
		m.state = &State{CurrentIndex: -1, History: []HistoryEntry{}}
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.statePath)
	if errors.Is(err, iofs.ErrNotExist) {
		m.state = &State{CurrentIndex: -1, History: []HistoryEntry{}}
		return nil
	}
	if err != nil {
		return err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("invalid state file: %w", err)
	}
	if st.CurrentIndex < -1 || st.CurrentIndex >= len(st.History) {
		return fmt.Errorf("invalid state file: index %d out of range", st.CurrentIndex)
	}
	m.state = &st
	return nil
}

func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.StateDir, 0o755); err != nil {
		return fmt.Errorf("could not create state directory: %w", err)
	}
	return fs.WriteFileAtomic(m.statePath, data, 0o644)
}

// Write adds a new entry to the history, discarding anything that was
// undone before it. It returns the entry id.
func (m *Manager) Write(operations []Operation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.CurrentIndex < len(m.state.History)-1 {
		m.state.History = m.state.History[:m.state.CurrentIndex+1]
	}

	entry := HistoryEntry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Operations: operations,
	}
	m.state.History = append(m.state.History, entry)
	m.state.CurrentIndex++
	if err := m.save(); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}
	return entry.ID, nil
}

// History returns the recorded entries up to the current position, newest
// last.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]HistoryEntry, m.state.CurrentIndex+1)
	copy(out, m.state.History[:m.state.CurrentIndex+1])
	return out
}

// CreateOperations turns the successful part of a batch into history
// operations, hashing every file as it is now.
func (m *Manager) CreateOperations(res model.BatchResult) []Operation {
	ops := make([]Operation, 0, len(res.Succeeded))
	for _, p := range res.Succeeded {
		op := Operation{Path: p, Action: res.Actions[p], Backup: res.Backups[p]}
		if op.Action != model.OpDelete {
			if abs, err := m.root.Resolve(p); err == nil {
				if hash, err := fs.GetFileSHA256(abs); err == nil {
					op.ContentHash = hash
				}
			}
		}
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Path < ops[j].Path
	})
	return ops
}

// UndoResult reports what Undo did.
type UndoResult struct {
	ID       string   `json:"id"`
	Restored []string `json:"restored"`
	Removed  []string `json:"removed"`
	// Conflicts lists files changed since the batch; they are left alone.
	Conflicts []string `json:"conflicts"`
}

// Undo reverts the most recent batch. A file is only touched if it still
// looks exactly as the batch left it.
func (m *Manager) Undo() (UndoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.CurrentIndex < 0 {
		return UndoResult{}, ErrNothingToUndo
	}
	entry := m.state.History[m.state.CurrentIndex]
	res := UndoResult{ID: entry.ID, Restored: []string{}, Removed: []string{}, Conflicts: []string{}}

	if m.expecter != nil {
		var paths []string
		for _, op := range entry.Operations {
			if abs, err := m.root.Resolve(op.Path); err == nil {
				paths = append(paths, abs)
			}
		}
		m.expecter.ExpectWrites(paths...)
	}

	for _, op := range entry.Operations {
		removed, err := m.revert(op)
		switch {
		case err != nil:
			m.logger.Warn("undo skipped file", "path", op.Path, "error", err)
			res.Conflicts = append(res.Conflicts, op.Path)
		case removed:
			res.Removed = append(res.Removed, op.Path)
		default:
			res.Restored = append(res.Restored, op.Path)
		}
	}

	m.state.CurrentIndex--
	if err := m.save(); err != nil {
		return res, fmt.Errorf("save state: %w", err)
	}
	m.logger.Info("batch undone", "id", entry.ID,
		"restored", len(res.Restored), "removed", len(res.Removed), "conflicts", len(res.Conflicts))
	return res, nil
}

func (m *Manager) revert(op Operation) (removed bool, err error) {
	abs, err := m.root.Resolve(op.Path)
	if err != nil {
		return false, err
	}

	switch op.Action {
	case model.OpCreate:
		if err := m.checkUnchanged(abs, op.ContentHash); err != nil {
			return false, err
		}
		if err := os.Remove(abs); err != nil {
			return false, err
		}
		m.pruneEmptyDirs(filepath.Dir(abs))
		return true, nil

	case model.OpUpdate:
		if err := m.checkUnchanged(abs, op.ContentHash); err != nil {
			return false, err
		}
		return false, restore(op.Backup, abs)

	case model.OpDelete:
		if _, err := os.Lstat(abs); err == nil {
			return false, errors.New("file was recreated since the delete")
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return false, err
		}
		return false, restore(op.Backup, abs)
	}
	return false, fmt.Errorf("unknown action %q", op.Action)
}

func (m *Manager) checkUnchanged(abs, want string) error {
	got, err := fs.GetFileSHA256(abs)
	if err != nil {
		return err
	}
	if want == "" || got != want {
		return errors.New("file changed since it was written")
	}
	return nil
}

// pruneEmptyDirs removes dir and its parents while they are empty, stopping
// at the root.
func (m *Manager) pruneEmptyDirs(dir string) {
	for m.root.Contains(dir) {
		empty, err := fs.IsEmpty(dir)
		if err != nil || !empty {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func restore(backup, dest string) error {
	if backup == "" {
		return errors.New("no backup recorded")
	}
	info, err := os.Stat(backup)
	if err != nil {
		return fmt.Errorf("backup missing: %w", err)
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(dest, data, info.Mode().Perm())
}
