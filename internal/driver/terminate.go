package driver

import (
	"errors"
	"fmt"
)

// ErrProcessGone matches a TerminationError whose target no longer exists.
var ErrProcessGone = errors.New("process no longer exists")

// Terminator asks the OS to end a process by pid.
type Terminator interface {
	Terminate(pid int) error
}

// TerminatorFunc adapts a function to the Terminator interface.
type TerminatorFunc func(pid int) error

func (f TerminatorFunc) Terminate(pid int) error { return f(pid) }

// TerminationError reports a failed termination request.
type TerminationError struct {
	PID  int
	Err  error
	gone bool
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminating process %d: %v", e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }

// Is reports ErrProcessGone when the OS said the process does not exist.
func (e *TerminationError) Is(target error) bool {
	return target == ErrProcessGone && e.gone
}
