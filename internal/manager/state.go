package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/benaskins/devdeck/internal/audit"
	"github.com/benaskins/devdeck/internal/driver"
)

// Record is the persisted state of a launched process.
type Record struct {
	Dir      string          `json:"dir"`
	Identity driver.Identity `json:"identity"`
}

// stateFile persists running pids so a crashed daemon can clean up after
// itself on the next start.
type stateFile struct {
	path string
	mu   sync.Mutex
}

func newStateFile(dir string) *stateFile {
	return &stateFile{path: filepath.Join(dir, "state.json")}
}

func (sf *stateFile) load() (map[int]Record, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.loadLocked()
}

func (sf *stateFile) set(pid int, rec Record) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	records, err := sf.loadLocked()
	if err != nil || records == nil {
		records = make(map[int]Record)
	}
	records[pid] = rec
	return sf.saveLocked(records)
}

func (sf *stateFile) remove(pid int) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	records, err := sf.loadLocked()
	if err != nil || records == nil {
		return err
	}
	if _, ok := records[pid]; !ok {
		return nil
	}
	delete(records, pid)
	return sf.saveLocked(records)
}

func (sf *stateFile) clear() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.saveLocked(map[int]Record{})
}

// loadLocked reads the file. Caller must hold sf.mu.
func (sf *stateFile) loadLocked() (map[int]Record, error) {
	data, err := os.ReadFile(sf.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var records map[int]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return records, nil
}

func (sf *stateFile) saveLocked(records map[int]Record) error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := sf.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, sf.path)
}

// ReapOrphans terminates processes left running by a previous daemon that
// exited without shutting down. A recorded pid is only signalled when its
// identity still matches, so a recycled pid is never touched. It returns the
// pids that were terminated.
func (m *Manager) ReapOrphans() ([]int, error) {
	if m.state == nil {
		return nil, nil
	}

	records, err := m.state.load()
	if err != nil {
		return nil, err
	}

	live := make(map[int]bool)
	for _, pid := range m.registry.PIDs() {
		live[pid] = true
	}

	var reaped []int
	for pid, rec := range records {
		if live[pid] {
			continue
		}
		if !rec.Identity.Matches() {
			m.logger.Debug("stale state record", "pid", pid, "dir", rec.Dir)
			continue
		}

		err := m.term.Terminate(pid)
		entry := audit.Entry{Action: audit.ActionOrphanReap, PID: pid, Dir: rec.Dir, Command: rec.Identity.Command}
		if err != nil && !errors.Is(err, driver.ErrProcessGone) {
			entry.Error = err.Error()
			m.logger.Warn("failed to reap orphan", "pid", pid, "error", err)
		} else {
			reaped = append(reaped, pid)
			m.logger.Info("reaped orphaned project", "pid", pid, "dir", rec.Dir)
		}
		if jerr := m.journal.Log(entry); jerr != nil {
			m.logger.Warn("journal write failed", "error", jerr)
		}
	}

	for pid := range records {
		if live[pid] {
			continue
		}
		if err := m.state.remove(pid); err != nil {
			return reaped, err
		}
	}
	return reaped, nil
}
