package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fake(stdin string, piped bool, clip string, clipErr error) *Provider {
	return &Provider{
		Stdin:      strings.NewReader(stdin),
		StdinPiped: func() bool { return piped },
		Clipboard:  func() (string, error) { return clip, clipErr },
	}
}

func TestReadPrefersPipedStdin(t *testing.T) {
	content, origin, err := fake("from stdin", true, "from clipboard", nil).Read("")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", content)
	assert.Equal(t, "stdin", origin)
}

func TestReadFallsBackToClipboard(t *testing.T) {
	content, origin, err := fake("", false, "from clipboard", nil).Read("")
	require.NoError(t, err)
	assert.Equal(t, "from clipboard", content)
	assert.Equal(t, "clipboard", origin)

	_, _, err = fake("", false, "", errors.New("no display")).Read("")
	assert.ErrorContains(t, err, "no display")
}

func TestReadFileAndDash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.md")
	require.NoError(t, os.WriteFile(path, []byte("file body"), 0o644))

	content, origin, err := fake("", false, "", nil).Read(path)
	require.NoError(t, err)
	assert.Equal(t, "file body", content)
	assert.Equal(t, path, origin)

	content, _, err = fake("dash", false, "", nil).Read("-")
	require.NoError(t, err)
	assert.Equal(t, "dash", content)
}

func TestReadEmpty(t *testing.T) {
	_, _, err := fake("  \n", true, "", nil).Read("")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReadTooLarge(t *testing.T) {
	p := fake(strings.Repeat("x", 11), true, "", nil)
	p.MaxSize = 10
	_, _, err := p.Read("")
	assert.ErrorContains(t, err, "larger than")
}
