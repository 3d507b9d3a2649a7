package dropin

import (
	"context"
	"fmt"
	"time"

	"github.com/sokinpui/dropin/cli"
	"github.com/sokinpui/dropin/internal/parser"
	"github.com/sokinpui/dropin/model"
)

// Config for using dropin as a library.
type Config struct {
	// Root every path is relative to. Defaults to the working directory.
	Root string
	// Only keep files with these extensions (e.g. 'py', '.go').
	Extensions []string
	// Save updates here when the target is not writable.
	FallbackDir string
}

func (c Config) cliConfig() *cli.Config {
	root := c.Root
	if root == "" {
		root = "."
	}
	return &cli.Config{
		Root:         root,
		Workers:      4,
		MaxFileSize:  10 << 20,
		MaxDiffLines: 50000,
		FallbackDir:  c.FallbackDir,
		Debounce:     300 * time.Millisecond,
		Extensions:   cli.NormalizeExtensions(c.Extensions),
		LogLevel:     "info",
		LogBuffer:    100,
	}
}

// Parse returns the file updates found in content.
func Parse(content string, config Config) []model.FileUpdate {
	return parser.FilterExtensions(parser.Parse(content), cli.NormalizeExtensions(config.Extensions))
}

// Apply parses content and writes the updates it contains under
// config.Root, returning what was done.
func Apply(ctx context.Context, content string, config Config) (model.Summary, error) {
	app, err := New(config.cliConfig(), WithRefresher(nil))
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to initialize dropin app: %w", err)
	}
	defer app.Close()

	updates := app.Parse(content)
	if len(updates) == 0 {
		return model.Summary{Message: "No file updates found. Nothing to do."}, nil
	}
	summary, _ := app.Apply(ctx, updates)
	return summary, nil
}
