package driver

import "golang.org/x/sys/unix"

// waitExit blocks until pid has exited, leaving it unreaped so the pid stays
// reserved.
func waitExit(pid int) error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	defer unix.Close(kq)

	var change unix.Kevent_t
	unix.SetKevent(&change, pid, unix.EVFILT_PROC, unix.EV_ADD|unix.EV_ONESHOT)
	change.Fflags = unix.NOTE_EXIT

	out := make([]unix.Kevent_t, 1)
	for {
		_, err := unix.Kevent(kq, []unix.Kevent_t{change}, out, nil)
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.ESRCH:
			// already a zombie
			return nil
		}
		return err
	}
}
