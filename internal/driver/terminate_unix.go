//go:build !windows

package driver

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// SignalTerminator sends SIGTERM and returns once the kernel accepts the
// signal. It does not wait for the process to exit.
type SignalTerminator struct{}

// DefaultTerminator returns the terminator for this platform.
func DefaultTerminator() Terminator { return SignalTerminator{} }

// Terminate signals the process group led by pid, falling back to the single
// process when pid does not lead a group.
func (SignalTerminator) Terminate(pid int) error {
	if pid <= 0 {
		return &TerminationError{PID: pid, Err: fmt.Errorf("invalid pid")}
	}

	err := unix.Kill(-pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, unix.SIGTERM)
	}
	if err != nil {
		return &TerminationError{PID: pid, Err: err, gone: errors.Is(err, unix.ESRCH)}
	}
	return nil
}
