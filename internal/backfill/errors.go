package backfill

import (
	"errors"
	"fmt"
)

var ErrInvalidArgument = errors.New("invalid argument")

// FetchError wraps a fetch collaborator failure for a window.
type FetchError struct {
	Window DateWindow
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch window %s: %v", e.Window, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps an upsert collaborator failure for a window.
type PersistenceError struct {
	Window DateWindow
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("upsert window %s: %v", e.Window, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
