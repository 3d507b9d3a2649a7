package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/dropin/model"
)

var (
	HeaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	PathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	AddedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	RemovedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	FaintStyle   = lipgloss.NewStyle().Faint(true)
)

// Out receives all status output.
var Out io.Writer = os.Stderr

func line(style lipgloss.Style, format string, a ...any) {
	fmt.Fprintln(Out, style.Render(fmt.Sprintf(format, a...)))
}

func Header(format string, a ...any)  { line(HeaderStyle, format, a...) }
func Info(format string, a ...any)    { line(InfoStyle, format, a...) }
func Success(format string, a ...any) { line(SuccessStyle, format, a...) }
func Warning(format string, a ...any) { line(WarningStyle, format, a...) }
func Error(format string, a ...any)   { line(ErrorStyle, format, a...) }

func Path(format string, a ...any) {
	fmt.Fprintln(Out, "  "+PathStyle.Render(fmt.Sprintf(format, a...)))
}

func list(items []string) {
	for _, f := range items {
		fmt.Fprintf(Out, "  - %s\n", f)
	}
}

// --- Summaries ---

func PrintUpdateSummary(s model.Summary) {
	Header("\n--- Update Summary ---")

	if len(s.Created) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0 && len(s.Failed) == 0 {
		Info("No files were updated.")
	}
	if len(s.Modified) > 0 {
		Success("Modified %d file(s):", len(s.Modified))
		list(s.Modified)
	}
	if len(s.Created) > 0 {
		Success("Created %d new file(s):", len(s.Created))
		list(s.Created)
	}
	if len(s.Deleted) > 0 {
		Success("Deleted %d file(s):", len(s.Deleted))
		list(s.Deleted)
	}
	if len(s.Failed) > 0 {
		Error("Failed to process %d file(s):", len(s.Failed))
		list(s.Failed)
	}
	if len(s.Fallbacks) > 0 {
		Warning("Saved %d file(s) to the fallback directory:", len(s.Fallbacks))
		for _, f := range s.Fallbacks {
			fmt.Fprintf(Out, "  - %s -> %s\n", f.Path, f.Location)
		}
	}
	if s.Message != "" {
		Info("%s", s.Message)
	}
}

func PrintRevertSummary(reverted, removed, conflicts []string) {
	Header("\n--- Revert Summary ---")
	if len(reverted) == 0 && len(removed) == 0 && len(conflicts) == 0 {
		Info("Nothing was reverted.")
	}
	if len(reverted) > 0 {
		Success("Restored %d file(s):", len(reverted))
		list(reverted)
	}
	if len(removed) > 0 {
		Success("Removed %d created file(s):", len(removed))
		list(removed)
	}
	if len(conflicts) > 0 {
		Error("Left %d changed file(s) alone:", len(conflicts))
		list(conflicts)
	}
}

// PrintChangeSet lists the files in a change set relative to root.
func PrintChangeSet(root string, cs model.ChangeSet) {
	rel := func(set map[string]struct{}) []string {
		paths := make([]string, 0, len(set))
		for p := range set {
			paths = append(paths, relTo(root, p))
		}
		sort.Strings(paths)
		return paths
	}
	PrintChanges(cs.At, rel(cs.Added), rel(cs.Modified), rel(cs.Removed))
}

// PrintChanges lists already relative paths with +, ~ and - markers.
func PrintChanges(at time.Time, added, modified, removed []string) {
	Header("--- Changes at %s ---", at.Format("15:04:05"))
	show := func(marker string, style lipgloss.Style, paths []string) {
		for _, p := range paths {
			fmt.Fprintln(Out, style.Render(marker+" "+p))
		}
	}
	show("+", AddedStyle, added)
	show("~", WarningStyle, modified)
	show("-", RemovedStyle, removed)
}

func relTo(root, p string) string {
	if rel, ok := strings.CutPrefix(p, root+string(os.PathSeparator)); ok {
		return rel
	}
	return p
}

// RenderDiff formats a diff with line numbers and +/- markers.
func RenderDiff(d model.Diff) string {
	var b strings.Builder
	for _, l := range d.Lines {
		switch l.ChangeType {
		case model.Unchanged:
			b.WriteString(FaintStyle.Render(fmt.Sprintf("%5d %5d   %s", *l.OldLineNumber, *l.NewLineNumber, *l.OldLine)))
		case model.Removed:
			b.WriteString(RemovedStyle.Render(fmt.Sprintf("%5d       - %s", *l.OldLineNumber, *l.OldLine)))
		case model.Added:
			b.WriteString(AddedStyle.Render(fmt.Sprintf("      %5d + %s", *l.NewLineNumber, *l.NewLine)))
		}
		b.WriteByte('\n')
	}
	if d.Partial {
		b.WriteString(WarningStyle.Render("(diff truncated)"))
		b.WriteByte('\n')
	}
	return b.String()
}

// DiffStat renders "+a -r" for a diff.
func DiffStat(d model.Diff) string {
	added, removed := d.Stats()
	return AddedStyle.Render(fmt.Sprintf("+%d", added)) + " " + RemovedStyle.Render(fmt.Sprintf("-%d", removed))
}
