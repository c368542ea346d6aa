package driver

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// LaunchConfig describes a process to launch.
type LaunchConfig struct {
	Executable string
	Args       []string
	WorkingDir string
	// Env is appended to the parent's environment. Nil inherits it unchanged.
	Env []string
}

// Launch starts the process described by cfg with stdout and stderr piped.
//
// ctx bounds the child's lifetime: when it is cancelled the process group is
// killed. Callers that want the child to outlive a request must pass a
// longer-lived context. The returned streams are live immediately and must be
// drained promptly or the child blocks once the pipe buffer fills.
func Launch(ctx context.Context, cfg LaunchConfig) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Executable: cfg.Executable, Err: err}
	}

	cmd := exec.CommandContext(ctx, cfg.Executable, cfg.Args...)
	cmd.Dir = cfg.WorkingDir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	configureSysProcAttr(cmd)
	cmd.Cancel = func() error {
		return killProcess(cmd.Process)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StreamCaptureError{Stream: "stdout", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, &StreamCaptureError{Stream: "stderr", Err: err}
	}

	if err := cmd.Start(); err != nil {
		// Start closes both pipes on failure.
		return nil, &SpawnError{Executable: cfg.Executable, Err: err}
	}

	return &Process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		command:   displayCommand(cfg.Executable, cfg.Args),
		dir:       cfg.WorkingDir,
		stdout:    stdout,
		stderr:    stderr,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}, nil
}
