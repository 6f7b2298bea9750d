package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the snapshot store for unknown ids.
	ErrNotFound = errors.New("memory: not found in snapshot")
)

// Error wraps a failed Memory Service call with the operation name.
type Error struct {
	Op  string
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("memory: %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("memory: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, ID: id, Err: err}
}
