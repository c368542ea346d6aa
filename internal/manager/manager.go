// Package manager launches dev servers, relays their output, and owns the
// registry of everything it has started.
//
// A Manager is safe for concurrent use. Every launched process is registered
// under its pid until it is stopped, drained at shutdown, or exits on its own.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benaskins/devdeck/internal/audit"
	"github.com/benaskins/devdeck/internal/command"
	"github.com/benaskins/devdeck/internal/driver"
	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/health"
	"github.com/benaskins/devdeck/internal/logbuf"
	"github.com/benaskins/devdeck/internal/port"
	"github.com/benaskins/devdeck/internal/project"
	"github.com/benaskins/devdeck/internal/registry"
	"github.com/benaskins/devdeck/internal/relay"
)

const (
	// DefaultLogLines is how many output lines are kept per process.
	DefaultLogLines = 500

	// killGrace bounds the wait for a force-killed process to be reaped.
	killGrace = 2 * time.Second

	// maxExited caps how many exited processes keep their output around.
	maxExited = 16
)

// ErrUnknownProcess is returned when a pid was never started by this manager
// or its output has been discarded.
var ErrUnknownProcess = errors.New("unknown process")

// Manager starts and stops dev server processes.
type Manager struct {
	ctx      context.Context // lifecycle of every launched child
	registry *registry.Registry
	term     driver.Terminator
	events   events.Publisher
	ports    *port.Allocator
	journal  *audit.Logger
	state    *stateFile
	logLines int
	resolve  func(dir string) (string, error)
	logger   *slog.Logger

	readyInterval time.Duration

	seq atomic.Uint64

	mu     sync.Mutex
	tails  map[int]*tail
	exited []int
}

// Option configures a Manager.
type Option func(*Manager)

// WithTerminator overrides how Stop and Shutdown ask processes to exit.
func WithTerminator(t driver.Terminator) Option {
	return func(m *Manager) { m.term = t }
}

// WithEvents sets where output, exit and error events are published.
func WithEvents(p events.Publisher) Option {
	return func(m *Manager) { m.events = p }
}

// WithPorts assigns each launched server a PORT from the allocator.
func WithPorts(a *port.Allocator) Option {
	return func(m *Manager) { m.ports = a }
}

// WithJournal records lifecycle actions to the journal.
func WithJournal(l *audit.Logger) Option {
	return func(m *Manager) { m.journal = l }
}

// WithStateDir persists running pids to dir/state.json for orphan recovery.
func WithStateDir(dir string) Option {
	return func(m *Manager) { m.state = newStateFile(dir) }
}

// WithLogLines sets how many output lines are kept per process.
func WithLogLines(n int) Option {
	return func(m *Manager) { m.logLines = n }
}

// WithLaunchCommand overrides how a project directory maps to a command line.
func WithLaunchCommand(fn func(dir string) (string, error)) Option {
	return func(m *Manager) { m.resolve = fn }
}

// New creates a manager whose children live until ctx is cancelled or they
// are stopped. reg may be shared with other components; nil creates one.
func New(ctx context.Context, reg *registry.Registry, opts ...Option) *Manager {
	if reg == nil {
		reg = registry.New()
	}
	m := &Manager{
		ctx:      ctx,
		registry: reg,
		term:     driver.DefaultTerminator(),
		events:   events.Discard,
		logLines: DefaultLogLines,
		resolve:  project.LaunchCommand,
		logger:   slog.With("component", "manager"),
		tails:    make(map[int]*tail),

		readyInterval: health.DefaultInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the registry of running processes.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Start launches the dev server for the project in dir and returns its pid.
// ctx only bounds the launch itself; the process outlives it.
func (m *Manager) Start(ctx context.Context, dir string) (int, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("resolving %s: %w", dir, err)
	}
	line, err := m.resolve(abs)
	if err != nil {
		return 0, fmt.Errorf("launch command for %s: %w", abs, err)
	}
	return m.StartCommand(ctx, abs, line)
}

// StartCommand launches a command line in dir and returns its pid.
func (m *Manager) StartCommand(ctx context.Context, dir, line string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	exe, args, err := command.Resolve(line)
	if err != nil {
		return 0, err
	}

	key := dir + "#" + strconv.FormatUint(m.seq.Add(1), 10)
	var env []string
	var assigned int
	if m.ports != nil {
		p, err := m.ports.Allocate(key)
		if err != nil {
			m.logger.Warn("no port assigned", "dir", dir, "error", err)
		} else {
			assigned = p
			env = append(env, port.Env(p))
		}
	}

	proc, err := driver.Launch(m.ctx, driver.LaunchConfig{
		Executable: exe,
		Args:       args,
		WorkingDir: dir,
		Env:        env,
	})
	if err != nil {
		m.releasePort(key)
		return 0, err
	}

	pid := proc.PID()
	m.registry.Register(pid, proc)

	t := &tail{
		pid:       pid,
		dir:       dir,
		command:   proc.Command(),
		port:      assigned,
		startedAt: proc.StartedAt(),
		lines:     logbuf.New[relay.Line](m.logLines),
	}
	m.track(t)

	relayed := relay.RelayPair(pid, proc.Stdout(), proc.Stderr(), func(l relay.Line) {
		t.lines.Add(l)
		m.events.Publish(events.FromLine(l))
	})
	go m.watch(proc, t, key, relayed)
	if assigned > 0 {
		go m.awaitReady(proc, t)
	}

	m.logger.Info("project started", "pid", pid, "dir", dir, "command", proc.Command(), "port", assigned)
	if err := m.journal.Log(audit.Entry{
		Action:  audit.ActionProjectStart,
		PID:     pid,
		Dir:     dir,
		Command: proc.Command(),
	}); err != nil {
		m.logger.Warn("journal write failed", "error", err)
	}
	if m.state != nil {
		rec := Record{Dir: dir, Identity: driver.IdentityOf(pid, exe)}
		if err := m.state.set(pid, rec); err != nil {
			m.logger.Warn("failed to persist state", "error", err)
		}
	}
	return pid, nil
}

// awaitReady publishes ProjectReady once the server accepts connections on
// its assigned port. Gives up when the process exits first.
func (m *Manager) awaitReady(proc *driver.Process, t *tail) {
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := health.WaitReady(ctx, t.port, m.readyInterval); err != nil {
		return
	}
	t.markReady()
	m.logger.Info("project ready", "pid", t.pid, "port", t.port)
	m.events.Publish(events.Event{
		Kind:    events.ProjectReady,
		PID:     t.pid,
		Message: "http://localhost:" + strconv.Itoa(t.port),
	})
}

// watch reaps proc once both streams are drained. Wait closes the pipes, so
// it must not run while a relay is still reading.
func (m *Manager) watch(proc *driver.Process, t *tail, key string, relayed <-chan struct{}) {
	<-relayed
	code, err := proc.Wait()
	m.releasePort(key)
	t.exit(code)
	m.retire(t.pid)

	pid := proc.PID()
	owned := m.registry.UnregisterIf(pid, proc)
	if err != nil {
		m.logger.Warn("wait failed", "pid", pid, "error", err)
	}
	m.logger.Info("project exited", "pid", pid, "exit_code", code, "stopped", !owned)

	m.events.Publish(events.Event{
		Kind:     events.ProjectExit,
		PID:      pid,
		ExitCode: audit.ExitCode(code),
	})

	if !owned {
		return
	}
	if m.state != nil {
		if err := m.state.remove(pid); err != nil {
			m.logger.Warn("failed to persist state", "error", err)
		}
	}
	if err := m.journal.Log(audit.Entry{
		Action:   audit.ActionProjectExit,
		PID:      pid,
		Dir:      t.dir,
		Command:  t.command,
		ExitCode: audit.ExitCode(code),
	}); err != nil {
		m.logger.Warn("journal write failed", "error", err)
	}
}

// Stop removes pid from the registry and asks it to exit. Stopping a pid the
// manager does not own, or one that already died, is not an error.
func (m *Manager) Stop(pid int) error {
	proc, ok := m.registry.Unregister(pid)
	if !ok {
		m.logger.Debug("stop for unknown pid", "pid", pid)
		return nil
	}
	if m.state != nil {
		if err := m.state.remove(pid); err != nil {
			m.logger.Warn("failed to persist state", "error", err)
		}
	}

	err := proc.Terminate(m.term)
	entry := audit.Entry{Action: audit.ActionProjectStop, PID: pid, Dir: proc.Dir(), Command: proc.Command()}
	if err != nil && !errors.Is(err, driver.ErrProcessGone) {
		entry.Error = err.Error()
	}
	if jerr := m.journal.Log(entry); jerr != nil {
		m.logger.Warn("journal write failed", "error", jerr)
	}

	switch {
	case errors.Is(err, driver.ErrProcessGone):
		m.logger.Debug("process already gone", "pid", pid)
		return nil
	case err != nil:
		return err
	}
	m.logger.Info("project stopped", "pid", pid)
	return nil
}

// Shutdown drains the registry, terminates every process and waits for them
// to exit. Processes still alive when ctx expires are force-killed.
func (m *Manager) Shutdown(ctx context.Context) error {
	procs := m.registry.Drain()
	if len(procs) == 0 {
		return nil
	}
	m.logger.Info("shutting down projects", "count", len(procs))

	var errs []error
	for _, proc := range procs {
		if err := proc.Terminate(m.term); err != nil && !errors.Is(err, driver.ErrProcessGone) {
			errs = append(errs, err)
		}
	}

	for pid, proc := range procs {
		select {
		case <-proc.Done():
			continue
		case <-ctx.Done():
		}
		m.logger.Warn("force killing project", "pid", pid)
		if err := proc.Kill(); err != nil {
			m.logger.Debug("kill failed", "pid", pid, "error", err)
		}
		select {
		case <-proc.Done():
		case <-time.After(killGrace):
			errs = append(errs, fmt.Errorf("pid %d did not exit after kill", pid))
		}
	}

	if m.state != nil {
		if err := m.state.clear(); err != nil {
			m.logger.Warn("failed to persist state", "error", err)
		}
	}
	return errors.Join(errs...)
}

// ProcessState is a point-in-time view of a launched process.
type ProcessState struct {
	PID         int       `json:"pid"`
	Dir         string    `json:"dir"`
	Command     string    `json:"command"`
	Port        int       `json:"port,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Running     bool      `json:"running"`
	Ready       bool      `json:"ready,omitempty"`
	OutputLines int       `json:"output_lines"` // including lines no longer retained
	ExitCode    *int      `json:"exit_code,omitempty"`
}

// Processes lists running processes and recently exited ones, oldest first.
func (m *Manager) Processes() []ProcessState {
	running := make(map[int]bool)
	for _, pid := range m.registry.PIDs() {
		running[pid] = true
	}

	m.mu.Lock()
	out := make([]ProcessState, 0, len(m.tails))
	for _, t := range m.tails {
		out = append(out, t.state(running[t.pid]))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].PID < out[j].PID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Logs returns up to n of the most recent output lines for pid. n <= 0
// returns everything retained.
func (m *Manager) Logs(pid, n int) ([]relay.Line, error) {
	m.mu.Lock()
	t, ok := m.tails[pid]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrUnknownProcess)
	}
	if n <= 0 {
		return t.lines.All(), nil
	}
	return t.lines.Last(n), nil
}

func (m *Manager) track(t *tail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tails[t.pid] = t
	// a recycled pid replaces whatever exited before it
	for i, pid := range m.exited {
		if pid == t.pid {
			m.exited = append(m.exited[:i], m.exited[i+1:]...)
			break
		}
	}
}

// retire marks pid as exited and discards the oldest exited tails past the cap.
func (m *Manager) retire(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exited = append(m.exited, pid)
	for len(m.exited) > maxExited {
		old := m.exited[0]
		m.exited = m.exited[1:]
		if t, ok := m.tails[old]; ok && t.hasExited() {
			delete(m.tails, old)
		}
	}
}

func (m *Manager) releasePort(key string) {
	if m.ports != nil {
		m.ports.Release(key)
	}
}

type tail struct {
	pid       int
	dir       string
	command   string
	port      int
	startedAt time.Time
	lines     *logbuf.Ring[relay.Line]

	mu       sync.Mutex
	ready    bool
	exited   bool
	exitCode int
}

func (t *tail) markReady() {
	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
}

func (t *tail) exit(code int) {
	t.mu.Lock()
	t.exited = true
	t.exitCode = code
	t.mu.Unlock()
}

func (t *tail) hasExited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

func (t *tail) state(running bool) ProcessState {
	s := ProcessState{
		PID:       t.pid,
		Dir:       t.dir,
		Command:   t.command,
		Port:      t.port,
		StartedAt: t.startedAt,
		Running:   running,
	}
	s.OutputLines = t.lines.Total()
	t.mu.Lock()
	s.Ready = t.ready
	if t.exited {
		s.Running = false
		s.ExitCode = audit.ExitCode(t.exitCode)
	}
	t.mu.Unlock()
	return s
}
