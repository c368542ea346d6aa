//go:build windows

package driver

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// HandleTerminator opens the process for termination only and ends it
// immediately. The process handle is always released.
type HandleTerminator struct{}

// DefaultTerminator returns the terminator for this platform.
func DefaultTerminator() Terminator { return HandleTerminator{} }

func (HandleTerminator) Terminate(pid int) error {
	if pid <= 0 {
		return &TerminationError{PID: pid, Err: fmt.Errorf("invalid pid")}
	}

	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		// OpenProcess rejects pids that do not name a live process.
		return &TerminationError{PID: pid, Err: err, gone: errors.Is(err, windows.ERROR_INVALID_PARAMETER)}
	}
	defer windows.CloseHandle(h)

	if err := windows.TerminateProcess(h, 1); err != nil {
		return &TerminationError{PID: pid, Err: err}
	}
	return nil
}
