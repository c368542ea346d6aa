// Package registry tracks the child processes that are believed to be running.
//
// The registry owns each process once registered. It deliberately offers no
// lookup: callers can add, remove or drain entries, and read the set of pids.
package registry

import (
	"sort"
	"sync"

	"github.com/benaskins/devdeck/internal/driver"
)

// Registry maps pids to live processes. The zero value is not usable; call New.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*driver.Process
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{procs: make(map[int]*driver.Process)}
}

// Register records p under pid, replacing any previous entry. Register right
// after launch, before the OS could plausibly recycle the pid.
func (r *Registry) Register(pid int, p *driver.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[pid] = p
}

// Unregister removes and returns the entry for pid.
func (r *Registry) Unregister(pid int) (*driver.Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.procs[pid]
	if ok {
		delete(r.procs, pid)
	}
	return p, ok
}

// UnregisterIf removes the entry for pid only while it still holds p. It lets
// an exit watcher retire its own process without evicting a newer process
// that reused the pid.
func (r *Registry) UnregisterIf(pid int, p *driver.Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.procs[pid]; ok && cur == p {
		delete(r.procs, pid)
		return true
	}
	return false
}

// Drain removes and returns every entry.
func (r *Registry) Drain() map[int]*driver.Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.procs
	r.procs = make(map[int]*driver.Process)
	return out
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// PIDs returns the registered pids in ascending order.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	pids := make([]int, 0, len(r.procs))
	for pid := range r.procs {
		pids = append(pids, pid)
	}
	r.mu.Unlock()

	sort.Ints(pids)
	return pids
}
