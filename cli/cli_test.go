package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("dropin", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	v, err := NewViper(fs)
	require.NoError(t, err)
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	cfg, err := load(t, "--root", root)
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, int64(10<<20), cfg.MaxFileSize)
	assert.Equal(t, 50000, cfg.MaxDiffLines)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce)
	assert.Equal(t, "127.0.0.1:7777", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 500, cfg.LogBuffer)
	assert.Empty(t, cfg.Extensions)
	assert.False(t, cfg.Yes)
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".dropin.yaml"),
		[]byte("workers: 2\nfallback-dir: /tmp/rescue\nlog-level: debug\n"), 0o644))
	t.Setenv("DROPIN_LOG_LEVEL", "warn")

	cfg, err := load(t, "--root", root, "--workers", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers, "flag beats file")
	assert.Equal(t, "warn", cfg.LogLevel, "env beats file")
	assert.Equal(t, "/tmp/rescue", cfg.FallbackDir)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := load(t, "--root", t.TempDir(), "--workers", "0")
	assert.ErrorContains(t, err, "workers")

	_, err = load(t, "--root", t.TempDir(), "--max-file-size", "-1")
	assert.ErrorContains(t, err, "max-file-size")
}

func TestNormalizeExtensions(t *testing.T) {
	assert.Equal(t, []string{".py", ".go", ".ts"}, NormalizeExtensions([]string{"py", ".GO", " ts ", ""}))
}
