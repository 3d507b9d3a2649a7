package monitor

import (
	iofs "io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/sokinpui/dropin/model"
)

var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
}

// skipName reports whether an entry with this base name is left out of
// snapshots and watches. The excluded names only apply to directories.
func skipName(name string, dir bool) bool {
	return strings.HasPrefix(name, ".") || dir && excludedDirs[name]
}

// FileState is what a snapshot records per file.
type FileState struct {
	ModTime time.Time
	Size    int64
}

// Snapshot maps absolute file paths under a root to their state.
type Snapshot map[string]FileState

// Take walks root recursively. Hidden entries and excluded directories are
// skipped; the root itself is always walked. Entries that vanish or cannot
// be read mid-walk are ignored.
func Take(root string) (Snapshot, error) {
	snap := make(Snapshot)
	err := filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}
		if skipName(d.Name(), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[path] = FileState{ModTime: info.ModTime(), Size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Compare returns what changed between two snapshots.
func Compare(prev, next Snapshot) model.ChangeSet {
	cs := model.NewChangeSet()
	for path, st := range next {
		old, ok := prev[path]
		switch {
		case !ok:
			cs.Added[path] = struct{}{}
		case !old.ModTime.Equal(st.ModTime) || old.Size != st.Size:
			cs.Modified[path] = struct{}{}
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			cs.Removed[path] = struct{}{}
		}
	}
	return cs
}
