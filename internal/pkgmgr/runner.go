package pkgmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/benaskins/devdeck/internal/audit"
	"github.com/benaskins/devdeck/internal/driver"
	"github.com/benaskins/devdeck/internal/events"
)

// Result is the outcome of one step.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// TaskError reports a step that exited non-zero.
type TaskError struct {
	Step     Step
	ExitCode int
	Stderr   string
}

func (e *TaskError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return fmt.Sprintf("%s: exit %d: %s", e.Step, e.ExitCode, msg)
	}
	return fmt.Sprintf("%s: exit %d", e.Step, e.ExitCode)
}

// Runner executes tasks and reports progress as task-status events.
type Runner struct {
	events  events.Publisher
	journal *audit.Logger
	exec    func(ctx context.Context, s Step) (Result, error)
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewRunner creates a runner. pub may be nil; journal may be nil.
func NewRunner(pub events.Publisher, journal *audit.Logger) *Runner {
	if pub == nil {
		pub = events.Discard
	}
	return &Runner{
		events:  pub,
		journal: journal,
		exec:    runStep,
		logger:  slog.With("component", "pkgmgr"),
	}
}

// Run executes t to completion.
func (r *Runner) Run(ctx context.Context, t Task) error {
	steps, err := Plan(t)
	if err != nil {
		return err
	}
	return r.run(ctx, t, steps)
}

// Go validates t and runs it in the background. Only planning errors are
// returned; the outcome is reported through task-status events.
func (r *Runner) Go(ctx context.Context, t Task) error {
	steps, err := Plan(t)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, t, steps)
	}()
	return nil
}

// Wait blocks until every task started with Go has finished.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) run(ctx context.Context, t Task, steps []Step) error {
	r.status(t, progressMessage(t.Action))

	for _, s := range steps {
		r.logger.Info("running task", "action", t.Action, "command", s.String(), "dir", s.Dir)
		res, err := r.exec(ctx, s)
		if err == nil && res.ExitCode != 0 {
			err = &TaskError{Step: s, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		if err != nil {
			r.logger.Warn("task failed", "action", t.Action, "command", s.String(), "error", err)
			r.status(t, failureMessage(t.Action, res, err))
			r.record(t, s, res.ExitCode, err)
			return err
		}
	}

	r.status(t, successMessage(t))
	r.record(t, steps[len(steps)-1], 0, nil)
	return nil
}

func (r *Runner) status(t Task, msg string) {
	r.events.Publish(events.Event{
		Kind:    events.TaskStatus,
		Task:    string(t.Action),
		Message: msg,
		Path:    t.Dir,
	})
}

func (r *Runner) record(t Task, s Step, code int, err error) {
	entry := audit.Entry{
		Action:   audit.ActionTaskRun,
		Dir:      s.Dir,
		Command:  s.String(),
		Task:     string(t.Action),
		ExitCode: audit.ExitCode(code),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if jerr := r.journal.Log(entry); jerr != nil {
		r.logger.Warn("journal write failed", "error", jerr)
	}
}

func progressMessage(a Action) string {
	switch a {
	case Add:
		return "Installing dependency..."
	case Update:
		return "Updating dependency..."
	case Remove:
		return "Deleting dependency..."
	case Reinstall:
		return "Reinstalling dependencies..."
	}
	return "Starting project creation..."
}

func successMessage(t Task) string {
	switch t.Action {
	case Add:
		return t.Name + " installed successfully!"
	case Update:
		return t.Name + " updated successfully!"
	case Remove:
		return t.Name + " deleted successfully!"
	case Reinstall:
		return "Dependencies reinstalled successfully!"
	}
	return "Project created successfully!"
}

func failureMessage(a Action, res Result, err error) string {
	var te *TaskError
	if !errors.As(err, &te) {
		return "Failed to execute command: " + err.Error()
	}
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return "Error: " + msg
	}
	verb := map[Action]string{
		Add:       "Installation",
		Update:    "Update",
		Remove:    "Deletion",
		Reinstall: "Reinstallation",
		Create:    "Project creation",
	}[a]
	return fmt.Sprintf("%s failed. Exit code: %d. Check output for details.", verb, res.ExitCode)
}

func runStep(ctx context.Context, s Step) (Result, error) {
	if len(s.Argv) == 0 {
		return Result{ExitCode: -1}, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	cmd.Dir = s.Dir
	if s.Argv[0] == "npm" || s.Argv[0] == "npx" {
		cmd.Env = append(os.Environ(), "npm_config_user_agent=npm")
	}
	driver.HideConsole(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return Result{ExitCode: -1}, ctx.Err()
	}
	res := Result{
		Stdout: strings.ToValidUTF8(stdout.String(), "�"),
		Stderr: strings.ToValidUTF8(stderr.String(), "�"),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		err = nil
	default:
		res.ExitCode = -1
	}
	return res, err
}
