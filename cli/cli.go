package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "DROPIN"
	configFileName = ".dropin"
)

// Config holds every setting after flags, environment and config file are
// merged.
type Config struct {
	Root         string
	Input        string
	Workers      int
	MaxFileSize  int64
	MaxDiffLines int
	FallbackDir  string
	Debounce     time.Duration
	Yes          bool
	NoTUI        bool
	Extensions   []string
	Addr         string
	LogLevel     string
	LogBuffer    int
}

// BindFlags defines all flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP("root", "C", ".", "Directory all file paths are relative to.")
	fs.StringP("input", "i", "", "Read the response from this file ('-' for stdin). Default: stdin if piped, else clipboard.")
	fs.IntP("workers", "w", 4, "Number of files written or diffed concurrently.")
	fs.Int64("max-file-size", 10<<20, "Largest file, in bytes, that will be read or written.")
	fs.Int("max-diff-lines", 50000, "Lines per side above which diffs are truncated.")
	fs.String("fallback-dir", "", "Save updates here when the target cannot be written for lack of permission.")
	fs.Duration("debounce", 300*time.Millisecond, "Quiet period before the watcher rescans.")
	fs.BoolP("yes", "y", false, "Apply without review.")
	fs.Bool("no-tui", false, "Print plain output instead of the interactive review.")
	fs.StringSliceP("extension", "e", []string{}, "Only keep files with these extensions (e.g. 'py', 'go').")
	fs.String("addr", "127.0.0.1:7777", "Listen address for 'serve'.")
	fs.String("log-level", "info", "Log level: debug, info, warn or error.")
	fs.Int("log-buffer", 500, "Number of log events kept in memory.")
}

// NewViper returns a viper instance resolving keys from fs, DROPIN_*
// environment variables and .dropin.yaml in the root or home directory,
// in that order.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(v.GetString("root"))
	v.AddConfigPath("$HOME")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Root:         v.GetString("root"),
		Input:        v.GetString("input"),
		Workers:      v.GetInt("workers"),
		MaxFileSize:  v.GetInt64("max-file-size"),
		MaxDiffLines: v.GetInt("max-diff-lines"),
		FallbackDir:  v.GetString("fallback-dir"),
		Debounce:     v.GetDuration("debounce"),
		Yes:          v.GetBool("yes"),
		NoTUI:        v.GetBool("no-tui"),
		Extensions:   NormalizeExtensions(v.GetStringSlice("extension")),
		Addr:         v.GetString("addr"),
		LogLevel:     v.GetString("log-level"),
		LogBuffer:    v.GetInt("log-buffer"),
	}

	if cfg.Root == "" {
		cfg.Root = "."
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid root: %w", err)
	}
	cfg.Root = root

	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("max-file-size must be positive, got %d", cfg.MaxFileSize)
	}
	if cfg.MaxDiffLines <= 0 {
		return nil, fmt.Errorf("max-diff-lines must be positive, got %d", cfg.MaxDiffLines)
	}
	if cfg.Debounce <= 0 {
		return nil, fmt.Errorf("debounce must be positive, got %s", cfg.Debounce)
	}
	return cfg, nil
}

// NormalizeExtensions lowercases extensions and gives each a leading dot.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if ext[0] != '.' {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}
