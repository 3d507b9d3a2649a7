package monitor

import (
	iofs "io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Notifier is the OS notification primitive the monitor listens to. Events
// are only used as "something changed" signals.
type Notifier interface {
	// Watch subscribes to dir and every non-skipped directory below it.
	Watch(dir string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

type fsNotifier struct {
	w *fsnotify.Watcher
}

// NewFSNotifier returns a Notifier backed by fsnotify.
func NewFSNotifier() (Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsNotifier{w: w}, nil
}

func (n *fsNotifier) Watch(dir string) error {
	return filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipName(d.Name(), true) {
			return filepath.SkipDir
		}
		return n.w.Add(path)
	})
}

func (n *fsNotifier) Events() <-chan fsnotify.Event { return n.w.Events }
func (n *fsNotifier) Errors() <-chan error          { return n.w.Errors }
func (n *fsNotifier) Close() error                  { return n.w.Close() }
