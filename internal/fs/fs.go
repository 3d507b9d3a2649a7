package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sokinpui/dropin/model"
)

// Root is a directory every relative path is resolved against. Its path is
// absolute with symlinks resolved.
type Root struct {
	path string
}

// NewRoot binds dir as a root.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", dir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", dir, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", dir)
	}
	return &Root{path: resolved}, nil
}

// Path returns the absolute root directory.
func (r *Root) Path() string {
	return r.path
}

// Components splits a relative path on both separators, dropping empty
// components. It rejects absolute paths and any "." or ".." component rather
// than cleaning them away.
func Components(rel string) ([]string, error) {
	if strings.TrimSpace(rel) == "" || strings.ContainsRune(rel, 0) {
		return nil, model.ErrInvalidPath
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.VolumeName(rel) != "" {
		return nil, model.ErrPathTraversal
	}

	parts := strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' })
	if len(parts) == 0 {
		return nil, model.ErrInvalidPath
	}
	for _, p := range parts {
		if p == "." || p == ".." {
			return nil, model.ErrPathTraversal
		}
	}
	return parts, nil
}

// Resolve joins a relative path onto the root without touching the disk.
func (r *Root) Resolve(rel string) (string, error) {
	parts, err := Components(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{r.path}, parts...)...), nil
}

// Contains reports whether abs lies lexically under the root.
func (r *Root) Contains(abs string) bool {
	rel, err := filepath.Rel(r.path, abs)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel returns abs relative to the root with forward slashes, or abs itself
// when it is outside the root.
func (r *Root) Rel(abs string) string {
	rel, err := filepath.Rel(r.path, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// EvalExisting resolves symlinks in the longest existing prefix of p and
// appends the rest unchanged.
func EvalExisting(p string) (string, error) {
	cur := p
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, iofs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// Confine resolves symlinks in abs and checks the result is the root or
// under it. It returns the resolved path.
func (r *Root) Confine(abs string) (string, error) {
	resolved, err := EvalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	if resolved != r.path && !r.Contains(resolved) {
		return "", model.ErrPathTraversal
	}
	return resolved, nil
}

// ReadFile returns the current content of a file under the root. A missing
// file is reported with an error wrapping fs.ErrNotExist.
func (r *Root) ReadFile(rel string, maxSize int64) (string, error) {
	abs, err := r.Resolve(rel)
	if err != nil {
		return "", model.NewUpdateError(rel, err, nil)
	}
	abs, err = r.Confine(abs)
	if err != nil {
		return "", model.NewUpdateError(rel, err, nil)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", model.NewUpdateError(rel, model.ErrInvalidPath, errors.New("is a directory"))
	}
	if maxSize > 0 && info.Size() > maxSize {
		return "", model.NewUpdateError(rel, model.ErrFileTooLarge, fmt.Errorf("%d bytes, max %d", info.Size(), maxSize))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", model.NewUpdateError(rel, model.ErrIO, err)
	}
	return string(data), nil
}

// Classify decides whether an update creates or modifies its file.
// Deletes stay deletes.
func (r *Root) Classify(rel string, op model.Operation) model.Operation {
	if op == model.OpDelete {
		return op
	}
	abs, err := r.Resolve(rel)
	if err != nil {
		return op
	}
	if _, err := os.Stat(abs); err == nil {
		return model.OpUpdate
	}
	return model.OpCreate
}

// WriteFileAtomic writes data to a hidden temporary file next to path and
// renames it into place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// GetFileSHA256 returns the hex SHA-256 of a file's content.
func GetFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256 returns the hex SHA-256 of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsEmpty reports whether a directory has no entries.
func IsEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}
