// Package driver launches development-server child processes with captured
// output and terminates them by pid.
package driver

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Process is a launched child whose stdout and stderr are piped to the parent.
// Stdin is not connected.
type Process struct {
	cmd       *exec.Cmd
	pid       int
	command   string
	dir       string
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	startedAt time.Time

	waitOnce sync.Once
	done     chan struct{}

	// reapMu is held while the pid is signalled; reaped is set before the
	// pid is released back to the OS.
	reapMu sync.Mutex
	reaped bool

	mu       sync.Mutex
	exitCode int
	exitErr  error
}

// PID returns the OS process id, which doubles as the process handle.
func (p *Process) PID() int { return p.pid }

// Stdout returns the read end of the child's stdout pipe.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// Stderr returns the read end of the child's stderr pipe.
func (p *Process) Stderr() io.ReadCloser { return p.stderr }

// Command returns the executable and arguments joined by spaces, for display.
func (p *Process) Command() string { return p.command }

// Dir returns the working directory the process was started in.
func (p *Process) Dir() string { return p.dir }

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once Wait has reaped the process.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait reaps the process and returns its exit code (-1 when it was killed by a
// signal). Wait closes the output pipes, so it must only be called once both
// streams have been read to EOF. Later calls return the first result.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		if waitExit(p.pid) == nil {
			p.setReaped()
		}
		err := p.cmd.Wait()
		p.setReaped()

		p.mu.Lock()
		defer p.mu.Unlock()

		p.exitCode = 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
				p.exitErr = err
			}
		}
		close(p.done)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exitErr
}

// Kill forcibly ends the process (and its process group where supported).
func (p *Process) Kill() error {
	p.reapMu.Lock()
	defer p.reapMu.Unlock()
	if p.reaped {
		return p.gone()
	}
	return killProcess(p.cmd.Process)
}

// Terminate asks t to end the process. Once Wait has begun reaping it the
// pid may be reused, so t is not called and the error matches ErrProcessGone.
func (p *Process) Terminate(t Terminator) error {
	p.reapMu.Lock()
	defer p.reapMu.Unlock()
	if p.reaped {
		return p.gone()
	}
	return t.Terminate(p.pid)
}

func (p *Process) setReaped() {
	p.reapMu.Lock()
	p.reaped = true
	p.reapMu.Unlock()
}

func (p *Process) gone() error {
	return &TerminationError{PID: p.pid, Err: ErrProcessGone, gone: true}
}

// SpawnError reports that the OS could not create the process.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// StreamCaptureError reports that an output pipe could not be set up.
type StreamCaptureError struct {
	Stream string
	Err    error
}

func (e *StreamCaptureError) Error() string {
	return fmt.Sprintf("capturing %s: %v", e.Stream, e.Err)
}

func (e *StreamCaptureError) Unwrap() error { return e.Err }

func displayCommand(executable string, args []string) string {
	return strings.TrimSpace(executable + " " + strings.Join(args, " "))
}
