package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Runtime is a JavaScript package manager.
type Runtime string

const (
	NPM  Runtime = "npm"
	PNPM Runtime = "pnpm"
	Yarn Runtime = "yarn"
)

// ErrUnsupportedRuntime is returned for a package manager other than npm,
// pnpm or yarn.
var ErrUnsupportedRuntime = errors.New("unsupported runtime")

// lockFiles in precedence order.
var lockFiles = []struct {
	name    string
	runtime Runtime
}{
	{"pnpm-lock.yaml", PNPM},
	{"yarn.lock", Yarn},
	{"package-lock.json", NPM},
}

// DetectRuntime identifies the package manager from the lock file in dir.
func DetectRuntime(dir string) (Runtime, error) {
	for _, lf := range lockFiles {
		if _, err := os.Stat(filepath.Join(dir, lf.name)); err == nil {
			return lf.runtime, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dir, ErrNoLockFile)
}

// ParseRuntime validates a runtime name.
func ParseRuntime(s string) (Runtime, error) {
	switch rt := Runtime(s); rt {
	case NPM, PNPM, Yarn:
		return rt, nil
	}
	return "", fmt.Errorf("%w %q (expected npm, pnpm or yarn)", ErrUnsupportedRuntime, s)
}
