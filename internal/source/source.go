package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
)

// DefaultMaxSize caps how much input is read.
const DefaultMaxSize = 32 << 20

// ErrEmpty means the chosen source had nothing but whitespace.
var ErrEmpty = errors.New("input is empty")

// Provider determines and retrieves the source content.
type Provider struct {
	Stdin      io.Reader
	StdinPiped func() bool
	Clipboard  func() (string, error)
	MaxSize    int64
}

// New creates a Provider reading the process stdin and system clipboard.
func New() *Provider {
	return &Provider{
		Stdin:      os.Stdin,
		StdinPiped: stdinPiped,
		Clipboard:  clipboard.ReadAll,
		MaxSize:    DefaultMaxSize,
	}
}

func stdinPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

// Read returns the content of input along with a name for where it came
// from. input is a file path, "-" for stdin, or empty to read stdin when it
// is piped and the clipboard otherwise.
func (p *Provider) Read(input string) (content, origin string, err error) {
	switch {
	case input == "-":
		content, err = p.readAll(p.Stdin)
		origin = "stdin"
	case input != "":
		var f *os.File
		f, err = os.Open(input)
		if err != nil {
			return "", input, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		content, err = p.readAll(f)
		origin = input
	case p.StdinPiped != nil && p.StdinPiped():
		content, err = p.readAll(p.Stdin)
		origin = "stdin"
	default:
		origin = "clipboard"
		if p.Clipboard == nil {
			return "", origin, errors.New("clipboard unavailable")
		}
		content, err = p.Clipboard()
		if err != nil {
			return "", origin, fmt.Errorf("failed to read from clipboard: %w", err)
		}
	}
	if err != nil {
		return "", origin, err
	}
	if strings.TrimSpace(content) == "" {
		return "", origin, ErrEmpty
	}
	return content, origin, nil
}

func (p *Provider) readAll(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("no reader")
	}
	limit := p.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("input larger than %d bytes", limit)
	}
	return string(data), nil
}
