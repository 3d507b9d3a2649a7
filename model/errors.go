package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrPathTraversal means an update tried to reach outside the root.
	ErrPathTraversal = errors.New("path traversal attempt")
	ErrInvalidPath   = errors.New("invalid path")
	ErrFileTooLarge  = errors.New("file too large")
	ErrIO            = errors.New("i/o error")
	// ErrWatcherInit means the change monitor could not start watching and
	// stays inert.
	ErrWatcherInit = errors.New("watcher init failed")
)

// UpdateError ties a failure kind to the path it happened on.
type UpdateError struct {
	Path string
	Kind error
	Err  error
}

func (e *UpdateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
}

func (e *UpdateError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewUpdateError builds an UpdateError.
func NewUpdateError(path string, kind, err error) *UpdateError {
	return &UpdateError{Path: path, Kind: kind, Err: err}
}

func (f UpdateFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}{f.Path, msg})
}
