package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sokinpui/dropin/cli"
	"github.com/sokinpui/dropin/dropin"
	"github.com/sokinpui/dropin/internal/logging"
	"github.com/sokinpui/dropin/internal/server"
	"github.com/sokinpui/dropin/internal/source"
	"github.com/sokinpui/dropin/internal/tui"
	"github.com/sokinpui/dropin/internal/ui"
	"github.com/sokinpui/dropin/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var detailed *dropin.DetailedError
		if errors.As(err, &detailed) {
			fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", detailed.Stack)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dropin",
		Short: "Write the files contained in an LLM response into a project",
		Long: `dropin reads a markdown response (clipboard, stdin or a file), finds the
fenced code blocks that name a file, shows what would change and writes the
approved files under the project root, keeping a backup of everything it
overwrites.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runReview,
	}
	cli.BindFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{Use: "parse", Short: "Print the file updates found in the response as JSON", Args: cobra.NoArgs, RunE: runParse},
		&cobra.Command{Use: "diff", Short: "Show the diff of every update without writing", Args: cobra.NoArgs, RunE: runDiff},
		&cobra.Command{Use: "apply", Short: "Apply every update without review", Args: cobra.NoArgs, RunE: runApply},
		&cobra.Command{Use: "undo", Short: "Revert the last applied batch", Args: cobra.NoArgs, RunE: runUndo},
		&cobra.Command{Use: "history", Short: "List the batches that can be undone", Args: cobra.NoArgs, RunE: runHistory},
		&cobra.Command{Use: "watch", Short: "Print changes under the root as they happen", Args: cobra.NoArgs, RunE: runWatch},
		&cobra.Command{Use: "serve", Short: "Serve the local HTTP API", Args: cobra.NoArgs, RunE: runServe},
	)
	return root
}

// setup loads the configuration for cmd and builds the app. Long-running
// commands log to stderr at the configured level; the others only when
// debugging.
func setup(cmd *cobra.Command) (*dropin.App, *slog.Logger, error) {
	v, err := cli.NewViper(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	cfg, err := cli.Load(v)
	if err != nil {
		return nil, nil, err
	}

	level := logging.ParseLevel(cfg.LogLevel)
	var w io.Writer
	if cmd.Name() == "serve" || cmd.Name() == "watch" || level <= slog.LevelDebug {
		w = cmd.ErrOrStderr()
	}
	buf := logging.NewBuffer(cfg.LogBuffer)
	logger := logging.New(buf, level, w)

	app, err := dropin.New(cfg, dropin.WithLogger(logger, buf))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return app, logger, nil
}

// readUpdates reads and parses the input. A nil slice with a nil error
// means there is nothing to do and the user has been told so.
func readUpdates(app *dropin.App) ([]model.FileUpdate, string, error) {
	content, origin, err := app.ReadInput()
	if errors.Is(err, source.ErrEmpty) {
		ui.Info("Source is empty. Nothing to process.")
		return nil, origin, nil
	}
	if err != nil {
		return nil, origin, err
	}
	updates := app.Parse(content)
	if len(updates) == 0 {
		ui.Info("No file updates found. Nothing to do.")
	}
	return updates, origin, nil
}

func runReview(cmd *cobra.Command, _ []string) error {
	app, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	updates, origin, err := readUpdates(app)
	if err != nil || len(updates) == 0 {
		return err
	}

	ctx := cmd.Context()
	cfg := app.Config()
	if cfg.Yes {
		summary, _ := app.Apply(ctx, updates)
		ui.PrintUpdateSummary(summary)
		return nil
	}

	previews, err := app.Preview(ctx, updates)
	if err != nil {
		return err
	}
	if cfg.NoTUI {
		printPreviews(cmd.OutOrStdout(), previews)
		ui.Info("Nothing written. Run again with --yes to apply.")
		return nil
	}

	var opts []tea.ProgramOption
	if origin == "stdin" {
		opts = append(opts, tea.WithInputTTY())
	}
	final, err := tui.Run(ctx, app, previews, opts...)
	if err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	if final.Cancelled() {
		ui.Info("Cancelled. No files were changed.")
		return nil
	}
	if summary, ok := final.Summary(); ok {
		ui.PrintUpdateSummary(summary)
	}
	return nil
}

func runParse(cmd *cobra.Command, _ []string) error {
	app, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	updates, _, err := readUpdates(app)
	if err != nil {
		return err
	}
	if updates == nil {
		updates = []model.FileUpdate{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(updates)
}

func runDiff(cmd *cobra.Command, _ []string) error {
	app, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	updates, _, err := readUpdates(app)
	if err != nil || len(updates) == 0 {
		return err
	}
	previews, err := app.Preview(cmd.Context(), updates)
	if err != nil {
		return err
	}
	printPreviews(cmd.OutOrStdout(), previews)
	return nil
}

func printPreviews(w io.Writer, previews []model.Preview) {
	for _, p := range previews {
		fmt.Fprintln(w, ui.HeaderStyle.Render(fmt.Sprintf("%s %s", p.Action, p.Update.Path))+" "+ui.DiffStat(p.Diff))
		if p.Err != "" {
			fmt.Fprintln(w, ui.ErrorStyle.Render(p.Err))
			continue
		}
		fmt.Fprint(w, ui.RenderDiff(p.Diff))
		fmt.Fprintln(w)
	}
}

func runApply(cmd *cobra.Command, _ []string) error {
	app, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Execute(cmd.Context())
	if err != nil {
		ui.Error("Error: %v", err)
		return err
	}
	ui.PrintUpdateSummary(summary)
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d update(s) failed", len(summary.Failed))
	}
	return nil
}

func runUndo(cmd *cobra.Command, _ []string) error {
	app, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Undo()
	if err != nil {
		return err
	}
	if summary.Message != "" {
		ui.Info("%s", summary.Message)
	}
	ui.PrintRevertSummary(summary.Modified, summary.Deleted, summary.Failed)
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	app, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	history := app.History()
	if len(history) == 0 {
		ui.Info("No history.")
		return nil
	}
	w := cmd.OutOrStdout()
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		fmt.Fprintf(w, "%s  %s  %d file(s)\n", e.ID[:8], e.Timestamp.Local().Format("2006-01-02 15:04:05"), len(e.Operations))
		for _, op := range e.Operations {
			fmt.Fprintf(w, "    %-6s %s\n", op.Action, op.Path)
		}
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	app, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ui.Header("Watching %s (Ctrl+C to stop)", app.Root())
	return app.Watch(cmd.Context(), func(rec dropin.ChangeRecord) {
		ui.PrintChanges(rec.At, rec.Added, rec.Modified, rec.Removed)
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.StartMonitor(nil); err != nil {
		logger.Warn("change monitor unavailable, /v1/changes will stay empty", "error", err)
	}
	return server.New(app, logger).Serve(cmd.Context(), app.Config().Addr)
}
