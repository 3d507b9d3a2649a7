// Package diff computes line diffs between the current and proposed content
// of a file.
package diff

import (
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sokinpui/dropin/model"
)

// DefaultMaxLines is the per-side line count above which input is clipped.
const DefaultMaxLines = 50000

// DefaultBudget bounds the time spent aligning one pair of texts.
const DefaultBudget = 500 * time.Millisecond

// Engine computes line diffs. The zero value uses DefaultMaxLines and
// DefaultBudget.
type Engine struct {
	MaxLines int
	Budget   time.Duration
}

var defaultEngine = Engine{}

// Compute diffs two texts with the default engine.
func Compute(oldText, newText string) model.Diff {
	return defaultEngine.Compute(oldText, newText)
}

// Compute returns the minimal line edit script turning oldText into newText.
// Lines are interned to runes and aligned with Myers' algorithm. When the
// alignment runs past the budget the remaining regions are reported as
// whole removals and additions and the diff is marked partial.
func (e Engine) Compute(oldText, newText string) model.Diff {
	limit := e.MaxLines
	if limit <= 0 {
		limit = DefaultMaxLines
	}
	budget := e.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}

	oldLines := SplitLines(oldText)
	newLines := SplitLines(newText)

	var partial bool
	if len(oldLines) > limit {
		oldLines = oldLines[:limit]
		partial = true
	}
	if len(newLines) > limit {
		newLines = newLines[:limit]
		partial = true
	}

	in := newInterner(len(oldLines) + len(newLines))
	oldRunes := in.runes(oldLines)
	newRunes := in.runes(newLines)

	diffs, exhausted := align(oldRunes, newRunes, time.Now().Add(budget))
	partial = partial || exhausted

	out := make([]model.DiffLine, 0, len(oldLines)+len(newLines))
	oldNo, newNo := 0, 0
	for _, d := range diffs {
		for _, r := range d.Text {
			line := in.line(r)
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldNo++
				newNo++
				out = append(out, model.DiffLine{
					OldLine:       ptr(line),
					NewLine:       ptr(line),
					OldLineNumber: ptr(oldNo),
					NewLineNumber: ptr(newNo),
					ChangeType:    model.Unchanged,
				})
			case diffmatchpatch.DiffDelete:
				oldNo++
				out = append(out, model.DiffLine{
					OldLine:       ptr(line),
					OldLineNumber: ptr(oldNo),
					ChangeType:    model.Removed,
				})
			case diffmatchpatch.DiffInsert:
				newNo++
				out = append(out, model.DiffLine{
					NewLine:       ptr(line),
					NewLineNumber: ptr(newNo),
					ChangeType:    model.Added,
				})
			}
		}
	}

	return model.Diff{Lines: out, Partial: partial}
}

// align runs Myers' bisection over the region between the common prefix and
// suffix. DiffTimeout stays zero so the library never swaps in its
// approximate half-match shortcut; the deadline is passed to the bisection
// alone. exhausted reports whether the deadline was reached.
func align(a, b []rune, deadline time.Time) (diffs []diffmatchpatch.Diff, exhausted bool) {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	oldMid, newMid := a[prefix:len(a)-suffix], b[prefix:len(b)-suffix]

	if prefix > 0 {
		diffs = append(diffs, diffmatchpatch.Diff{Type: diffmatchpatch.DiffEqual, Text: string(a[:prefix])})
	}
	switch {
	case len(oldMid) == 0 && len(newMid) == 0:
	case len(oldMid) == 0:
		diffs = append(diffs, diffmatchpatch.Diff{Type: diffmatchpatch.DiffInsert, Text: string(newMid)})
	case len(newMid) == 0:
		diffs = append(diffs, diffmatchpatch.Diff{Type: diffmatchpatch.DiffDelete, Text: string(oldMid)})
	default:
		dmp := diffmatchpatch.New()
		dmp.DiffTimeout = 0
		diffs = append(diffs, dmp.DiffBisect(string(oldMid), string(newMid), deadline)...)
		diffs = dmp.DiffCleanupMerge(diffs)
		exhausted = time.Now().After(deadline)
	}
	if suffix > 0 {
		diffs = append(diffs, diffmatchpatch.Diff{Type: diffmatchpatch.DiffEqual, Text: string(a[len(a)-suffix:])})
	}
	return diffs, exhausted
}

// SplitLines splits text on "\n". A single trailing newline does not start
// an extra empty line, and empty text has no lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

func ptr[T any](v T) *T {
	return &v
}

// interner assigns every distinct line a rune outside the surrogate range,
// so diff texts survive the library's string conversions intact.
type interner struct {
	index map[string]rune
	lines []string
}

const (
	firstRune     = rune(0x100)
	surrogateLow  = rune(0xD800)
	surrogateHigh = rune(0xDFFF)
)

func newInterner(capacity int) *interner {
	return &interner{
		index: make(map[string]rune, capacity),
		lines: make([]string, 0, capacity),
	}
}

func (in *interner) runes(lines []string) []rune {
	out := make([]rune, len(lines))
	for i, l := range lines {
		r, ok := in.index[l]
		if !ok {
			r = runeFor(len(in.lines))
			in.index[l] = r
			in.lines = append(in.lines, l)
		}
		out[i] = r
	}
	return out
}

func (in *interner) line(r rune) string {
	return in.lines[indexFor(r)]
}

func runeFor(i int) rune {
	r := firstRune + rune(i)
	if r >= surrogateLow {
		r += surrogateHigh - surrogateLow + 1
	}
	return r
}

func indexFor(r rune) int {
	if r > surrogateHigh {
		r -= surrogateHigh - surrogateLow + 1
	}
	return int(r - firstRune)
}
