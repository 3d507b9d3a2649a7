// Package tui is the interactive review screen: every parsed update is
// listed with its diff, the user picks which ones to write and the result
// is shown once they are applied.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/dropin/internal/ui"
	"github.com/sokinpui/dropin/model"
)

// --- Styles ---
var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pathStyle     = lipgloss.NewStyle()
	faintStyle    = lipgloss.NewStyle().Faint(true)
	paneStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

const listWidth = 44

// Applier writes the approved updates.
type Applier interface {
	Apply(ctx context.Context, updates []model.FileUpdate) (model.Summary, model.BatchResult)
}

// --- Messages ---
type summaryMsg struct {
	model.Summary
}

type errorMsg struct{ err error }

func (e errorMsg) Error() string { return e.err.Error() }

// --- Model ---
type Model struct {
	ctx      context.Context
	app      Applier
	previews []model.Preview
	approved []bool
	cursor   int

	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int

	state   state
	summary summaryMsg
	err     error
}

type state int

const (
	stateReview state = iota
	stateProcessing
	stateSummary
	stateError
	stateCancelled
)

// New returns a review model. Every update without a preview error starts
// approved.
func New(ctx context.Context, app Applier, previews []model.Preview) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	approved := make([]bool, len(previews))
	for i, p := range previews {
		approved[i] = p.Err == ""
	}
	m := Model{
		ctx:      ctx,
		app:      app,
		previews: previews,
		approved: approved,
		spinner:  s,
		viewport: viewport.New(80, 20),
		state:    stateReview,
	}
	m.showDiff()
	return m
}

func (m Model) Init() tea.Cmd {
	if len(m.previews) == 0 {
		return tea.Quit
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width-listWidth-4, 20)
		m.viewport.Height = max(msg.Height-6, 5)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case summaryMsg:
		m.state = stateSummary
		m.summary = msg
		return m, tea.Quit

	case errorMsg:
		m.state = stateError
		m.err = msg
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if m.state == stateProcessing {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		if m.state == stateReview {
			m.state = stateCancelled
		}
		return m, tea.Quit
	}
	if m.state != stateReview {
		return m, nil
	}

	switch msg.String() {
	case "q", "esc":
		m.state = stateCancelled
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.showDiff()
		}
	case "down", "j":
		if m.cursor < len(m.previews)-1 {
			m.cursor++
			m.showDiff()
		}
	case " ", "x":
		if len(m.previews) > 0 && m.previews[m.cursor].Err == "" {
			m.approved[m.cursor] = !m.approved[m.cursor]
		}
	case "a":
		all := m.allApproved()
		for i, p := range m.previews {
			m.approved[i] = !all && p.Err == ""
		}
	case "pgdown", "pgup", "ctrl+d", "ctrl+u":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		updates := m.Approved()
		if len(updates) == 0 {
			m.state = stateSummary
			m.summary = summaryMsg{model.Summary{Message: "No updates approved. Nothing to do."}}
			return m, tea.Quit
		}
		m.state = stateProcessing
		return m, tea.Batch(m.spinner.Tick, m.apply(updates))
	}
	return m, nil
}

func (m Model) allApproved() bool {
	for i, p := range m.previews {
		if p.Err == "" && !m.approved[i] {
			return false
		}
	}
	return true
}

// Approved returns the updates currently selected, in list order.
func (m Model) Approved() []model.FileUpdate {
	var out []model.FileUpdate
	for i, p := range m.previews {
		if m.approved[i] {
			out = append(out, p.Update)
		}
	}
	return out
}

// Summary returns the result of the apply, once there is one.
func (m Model) Summary() (model.Summary, bool) {
	return m.summary.Summary, m.state == stateSummary
}

// Cancelled reports whether the user left without applying.
func (m Model) Cancelled() bool {
	return m.state == stateCancelled
}

func (m *Model) showDiff() {
	if len(m.previews) == 0 {
		m.viewport.SetContent("")
		return
	}
	p := m.previews[m.cursor]
	if p.Err != "" {
		m.viewport.SetContent(errorStyle.Render(p.Err))
	} else if p.Action == model.OpDelete && len(p.Diff.Lines) == 0 {
		m.viewport.SetContent(faintStyle.Render("(file will be deleted)"))
	} else {
		m.viewport.SetContent(ui.RenderDiff(p.Diff))
	}
	m.viewport.GotoTop()
}

func (m Model) View() string {
	switch m.state {
	case stateReview:
		return m.renderReview()
	case stateProcessing:
		return fmt.Sprintf("%s Applying...", m.spinner.View())
	case stateError:
		return errorStyle.Render("Error: ", m.err.Error())
	case stateSummary:
		return m.renderSummary()
	default:
		return ""
	}
}

func (m Model) renderReview() string {
	if len(m.previews) == 0 {
		return faintStyle.Render("No file updates found. Nothing to do.") + "\n"
	}

	var list strings.Builder
	list.WriteString(headerStyle.Render(fmt.Sprintf("%d update(s)", len(m.previews))))
	list.WriteString("\n\n")
	for i, p := range m.previews {
		box := "[ ]"
		if m.approved[i] {
			box = "[x]"
		}
		row := fmt.Sprintf("%s %-6s %s", box, p.Action, p.Update.Path)
		if p.Err != "" {
			row = fmt.Sprintf("%s %-6s %s", "[!]", p.Action, p.Update.Path)
		}
		if len(row) > listWidth-10 {
			row = row[:listWidth-13] + "..."
		}
		row = fmt.Sprintf("%-*s %s", listWidth-10, row, ui.DiffStat(p.Diff))
		switch {
		case i == m.cursor:
			list.WriteString(selectedStyle.Render("> " + row))
		case p.Err != "":
			list.WriteString(errorStyle.Render("  " + row))
		default:
			list.WriteString(pathStyle.Render("  " + row))
		}
		list.WriteString("\n")
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(listWidth).Render(list.String()),
		paneStyle.Render(m.viewport.View()),
	)
	help := faintStyle.Render("j/k move • space toggle • a all • pgup/pgdn scroll • enter apply • q quit")
	return body + "\n" + help + "\n"
}

func (m *Model) renderSummary() string {
	var b strings.Builder

	if m.summary.Message != "" {
		b.WriteString(headerStyle.Render(m.summary.Message))
		b.WriteString("\n\n")
	}

	hasContent := false
	section := func(title string, style lipgloss.Style, items []string) {
		if len(items) == 0 {
			return
		}
		hasContent = true
		b.WriteString(style.Render(title))
		b.WriteString("\n")
		for _, f := range items {
			b.WriteString(fmt.Sprintf("  %s\n", pathStyle.Render(f)))
		}
	}
	section("Created:", successStyle, m.summary.Created)
	section("Modified:", successStyle, m.summary.Modified)
	section("Deleted:", successStyle, m.summary.Deleted)
	section("Failed:", errorStyle, m.summary.Failed)

	if len(m.summary.Fallbacks) > 0 {
		hasContent = true
		b.WriteString(errorStyle.Render("Saved elsewhere:"))
		b.WriteString("\n")
		for _, f := range m.summary.Fallbacks {
			b.WriteString(fmt.Sprintf("  %s -> %s\n", pathStyle.Render(f.Path), f.Location))
		}
	}

	if !hasContent && m.summary.Message == "" {
		b.WriteString(faintStyle.Render("Nothing to do."))
	}

	return b.String()
}

func (m Model) apply(updates []model.FileUpdate) tea.Cmd {
	return func() tea.Msg {
		ctx := m.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := ctx.Err(); err != nil {
			return errorMsg{err}
		}
		summary, _ := m.app.Apply(ctx, updates)
		return summaryMsg{Summary: summary}
	}
}

// Run shows the review screen and returns the final model.
func Run(ctx context.Context, app Applier, previews []model.Preview, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	final, err := tea.NewProgram(New(ctx, app, previews), opts...).Run()
	if err != nil {
		return Model{}, err
	}
	return final.(Model), nil
}
