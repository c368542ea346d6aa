package driver

import "golang.org/x/sys/windows"

// waitExit blocks until pid has exited. The handle held by os/exec keeps the
// pid from being reused until Wait returns.
func waitExit(pid int) error {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	_, err = windows.WaitForSingleObject(h, windows.INFINITE)
	return err
}
