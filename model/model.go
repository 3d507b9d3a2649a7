package model

import "time"

// Operation is the kind of change a FileUpdate asks for.
type Operation string

const (
	OpUpdate Operation = "update"
	OpCreate Operation = "create"
	OpDelete Operation = "delete"
)

// ParseOperation maps a loosely spelled operation name to an Operation.
// Unknown or empty names mean an update.
func ParseOperation(s string) Operation {
	switch s {
	case "create", "new", "add":
		return OpCreate
	case "delete", "remove", "rm":
		return OpDelete
	default:
		return OpUpdate
	}
}

// FileUpdate represents a single planned change to a file, relative to the
// bound root.
type FileUpdate struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Operation Operation `json:"operation"`
	Language  string    `json:"language,omitempty"`
}

// ChangeType classifies a DiffLine.
type ChangeType string

const (
	Unchanged ChangeType = "unchanged"
	Added     ChangeType = "added"
	Removed   ChangeType = "removed"
)

// DiffLine is one row of a line-aligned comparison. Unchanged rows carry
// both line numbers, added and removed rows exactly one.
type DiffLine struct {
	OldLine       *string    `json:"oldLine,omitempty"`
	NewLine       *string    `json:"newLine,omitempty"`
	OldLineNumber *int       `json:"oldLineNumber,omitempty"`
	NewLineNumber *int       `json:"newLineNumber,omitempty"`
	ChangeType    ChangeType `json:"changeType"`
}

// Diff is the full line diff between two texts.
type Diff struct {
	Lines []DiffLine `json:"lines"`
	// Partial is set when the input was clipped before diffing or the
	// alignment ran out of time.
	Partial bool `json:"partial,omitempty"`
}

// Stats counts added and removed lines.
func (d Diff) Stats() (added, removed int) {
	for _, l := range d.Lines {
		switch l.ChangeType {
		case Added:
			added++
		case Removed:
			removed++
		}
	}
	return added, removed
}

// Preview pairs an update with its diff against the current file.
type Preview struct {
	Update FileUpdate `json:"update"`
	Action Operation  `json:"action"`
	Diff   Diff       `json:"diff"`
	Err    string     `json:"error,omitempty"`
}

// ChangeSet holds the absolute paths that differ between two directory
// snapshots.
type ChangeSet struct {
	Added    map[string]struct{} `json:"-"`
	Removed  map[string]struct{} `json:"-"`
	Modified map[string]struct{} `json:"-"`
	At       time.Time           `json:"at"`
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Added:    make(map[string]struct{}),
		Removed:  make(map[string]struct{}),
		Modified: make(map[string]struct{}),
	}
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// UpdateFailure records why one update in a batch was not applied.
type UpdateFailure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// BatchResult is the outcome of applying a batch of updates.
type BatchResult struct {
	Succeeded []string        `json:"succeeded"`
	Failed    []UpdateFailure `json:"failed"`
	// Skipped lists updates never started because the batch was cancelled.
	Skipped []string `json:"skipped,omitempty"`
	// Backups maps a relative path to the backup written before it changed.
	Backups map[string]string `json:"backups,omitempty"`
	// Actions maps a relative path to what was done to it.
	Actions map[string]Operation `json:"actions,omitempty"`
}

// Fallback records an update persisted outside the root after a failure.
type Fallback struct {
	Path     string `json:"path"`
	Location string `json:"location"`
}

// Summary holds the results of an operation for display.
type Summary struct {
	Created   []string
	Modified  []string
	Deleted   []string
	Failed    []string
	Fallbacks []Fallback
	Message   string
}
