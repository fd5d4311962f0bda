package config

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that no persisted record exists yet. Store.Load
// handles it internally by synthesizing defaults; callers normally never
// see it.
var ErrNotFound = errors.New("config record not found")

// ValidationError rejects a mutation before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistError reports a failed durable write. The in-memory record is
// guaranteed untouched when this is returned.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
