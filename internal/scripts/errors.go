package scripts

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToDo lets a handler report that its unit had no work. The run
	// continues with the next unit.
	ErrNothingToDo = errors.New("nothing to do")
	// ErrUnknownKind is returned for a unit whose kind has no handler.
	ErrUnknownKind = errors.New("no handler registered for unit kind")
	// ErrLocked is returned when another process holds the runner lock.
	ErrLocked = errors.New("startup scripts are locked by another process")
)

// ExitError is a terminal stop requested by a unit. Code 0 is a soft stop,
// anything else aborts the run.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Exit stops the current unit with the given code.
func Exit(code int) error {
	return &ExitError{Code: code}
}

// FailureError names the unit that aborted the run.
type FailureError struct {
	Script string
	Err    error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("startup script %s failed: %v", e.Script, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// isSoftStop reports whether err means "nothing to do" rather than failure.
func isSoftStop(err error) bool {
	if errors.Is(err, ErrNothingToDo) {
		return true
	}
	var exit *ExitError
	return errors.As(err, &exit) && exit.Code == 0
}
