// Package nvim asks a running Neovim instance to reload buffers whose files
// changed on disk.
package nvim

import (
	"errors"
	"fmt"
	"os"

	"github.com/neovim/go-client/nvim"
)

// ErrNoInstance means no Neovim address was found in the environment.
var ErrNoInstance = errors.New("no running neovim instance")

// Address returns the RPC address of the Neovim instance this process runs
// under, or "" if there is none.
func Address() string {
	for _, key := range []string{"NVIM", "NVIM_LISTEN_ADDRESS"} {
		if addr := os.Getenv(key); addr != "" {
			return addr
		}
	}
	return ""
}

// Manager holds a connection to a running Neovim instance.
type Manager struct {
	nvim *nvim.Nvim
}

// Dial connects to the instance at addr.
func Dial(addr string) (*Manager, error) {
	if addr == "" {
		return nil, ErrNoInstance
	}
	v, err := nvim.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("connect to neovim at %s: %w", addr, err)
	}
	return &Manager{nvim: v}, nil
}

// Close disconnects from Neovim.
func (m *Manager) Close() error {
	if m.nvim == nil {
		return nil
	}
	return m.nvim.Close()
}

// Reload makes Neovim re-check every loaded buffer against the disk, so
// buffers for the given files pick up the new content. Deleted files are
// wiped from the buffer list only if they are not modified.
func (m *Manager) Reload(deleted []string) error {
	b := m.nvim.NewBatch()
	b.Command("checktime")
	for _, p := range deleted {
		b.Command(fmt.Sprintf("silent! bwipeout %s", escape(p)))
	}
	return b.Execute()
}

// Refresh dials the instance from the environment and reloads its buffers.
// It returns ErrNoInstance when there is nothing to refresh.
func Refresh(deleted []string) error {
	m, err := Dial(Address())
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Reload(deleted)
}

// escape makes a path safe as an Ex command argument.
func escape(p string) string {
	out := make([]rune, 0, len(p))
	for _, r := range p {
		switch r {
		case ' ', '\\', '%', '#', '|', '"':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
