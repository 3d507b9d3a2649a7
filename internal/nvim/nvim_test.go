package nvim

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressPrefersNVIM(t *testing.T) {
	t.Setenv("NVIM", "/tmp/a.sock")
	t.Setenv("NVIM_LISTEN_ADDRESS", "/tmp/b.sock")
	assert.Equal(t, "/tmp/a.sock", Address())

	t.Setenv("NVIM", "")
	assert.Equal(t, "/tmp/b.sock", Address())
}

func TestRefreshWithoutInstance(t *testing.T) {
	t.Setenv("NVIM", "")
	t.Setenv("NVIM_LISTEN_ADDRESS", "")
	assert.ErrorIs(t, Refresh(nil), ErrNoInstance)
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "missing.sock"))
	assert.Error(t, err)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `my\ file\%.txt`, escape("my file%.txt"))
	assert.Equal(t, "plain/path.go", escape("plain/path.go"))
}
