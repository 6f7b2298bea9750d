package constitution

import (
	"errors"
	"fmt"
)

// ErrDenied matches any *DeniedError.
var ErrDenied = errors.New("constitution: action denied")

// DeniedError is returned by Evaluate when the decision is deny. The full
// result, including the reasoning, is attached.
type DeniedError struct {
	Action string
	Result *EvaluationResult
}

func (e *DeniedError) Error() string {
	reason := ""
	if e.Result != nil {
		reason = e.Result.Reasoning
	}
	if reason == "" {
		return fmt.Sprintf("constitution: action %q denied", e.Action)
	}
	return fmt.Sprintf("constitution: action %q denied: %s", e.Action, reason)
}

func (e *DeniedError) Unwrap() error {
	return ErrDenied
}

// Error wraps a failed Constitution Agent call with the operation name.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("constitution: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
