package driver

import (
	"path/filepath"
)

// Identity pins a pid to the program it was running when recorded, so a pid
// recycled by the OS is never mistaken for one of ours.
type Identity struct {
	PID       int    `json:"pid"`
	Command   string `json:"command,omitempty"`
	StartTime int64  `json:"start_time,omitempty"`
}

// IdentityOf captures the identity of a live process. Missing OS details are
// left zero.
func IdentityOf(pid int, executable string) Identity {
	id := Identity{PID: pid, Command: filepath.Base(executable)}
	if st, err := processStartTime(pid); err == nil {
		id.StartTime = st
	}
	return id
}

// Matches reports whether the pid still belongs to the recorded process.
// Start time is checked first as it is the strongest signal against reuse.
// With nothing recorded beyond the pid the check is skipped and Matches
// returns false.
func (id Identity) Matches() bool {
	if id.PID <= 0 || (id.Command == "" && id.StartTime == 0) {
		return false
	}

	if id.StartTime != 0 {
		actual, err := processStartTime(id.PID)
		if err != nil || actual != id.StartTime {
			return false
		}
	}

	if id.Command == "" {
		return true
	}

	actual, err := processName(id.PID)
	if err != nil {
		return false
	}
	return matchName(actual, id.Command)
}

// matchName compares a kernel-reported process name against an executable
// base name. Linux truncates comm to 15 bytes and darwin to 16.
func matchName(actual, command string) bool {
	if actual == command {
		return true
	}
	if len(actual) >= 15 && len(command) > len(actual) {
		return command[:len(actual)] == actual
	}
	return false
}
