package driver

import "golang.org/x/sys/unix"

// waitExit blocks until pid has exited, leaving it unreaped so the pid stays
// reserved.
func waitExit(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return err
		}
	}
}
