// Package desktop hands paths to the user's file browser and editor.
//
// Both calls are fire-and-forget: the helper is started and reaped in the
// background, and only a failure to start it is reported.
package desktop

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/benaskins/devdeck/internal/driver"
)

// ErrUnsupportedOS is returned on platforms with no known file browser.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// OpenFileBrowser reveals path in the platform's file browser. On Linux,
// xdg-open is tried first and the FileManager1 D-Bus interface is the
// fallback.
func OpenFileBrowser(path string) error {
	candidates, err := browserCommands(runtime.GOOS, path)
	if err != nil {
		return err
	}

	var errs []error
	for _, argv := range candidates {
		if err := spawn(argv); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("opening file browser: %w", errors.Join(errs...))
}

// LaunchEditor opens path in editor, which is a command on PATH such as
// "code" or "zed".
func LaunchEditor(editor, path string) error {
	if editor == "" {
		return errors.New("no editor configured")
	}
	if err := spawn(editorCommand(runtime.GOOS, editor, path)); err != nil {
		return fmt.Errorf("launching %s: %w", editor, err)
	}
	return nil
}

func browserCommands(goos, path string) ([][]string, error) {
	switch goos {
	case "windows":
		return [][]string{{"explorer", path}}, nil
	case "darwin":
		return [][]string{{"open", "-R", path}}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return [][]string{
			{"xdg-open", path},
			{
				"dbus-send", "--session",
				"--dest=org.freedesktop.FileManager1",
				"--type=method_call",
				"/org/freedesktop/FileManager1",
				"org.freedesktop.FileManager1.ShowItems",
				"array:string:file://" + path,
				`string:""`,
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
}

func editorCommand(goos, editor, path string) []string {
	if goos == "windows" {
		// editors such as code ship as .cmd shims that only cmd can run
		return []string{"cmd", "/C", editor, path}
	}
	return []string{editor, path}
}

func spawn(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	driver.HideConsole(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("desktop helper exited", "command", argv[0], "error", err)
		}
	}()
	return nil
}
