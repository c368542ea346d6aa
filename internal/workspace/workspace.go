// Package workspace manages the folder that holds a user's projects.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/benaskins/devdeck/internal/project"
)

// DefaultFolder is created under the home directory when no location is given.
const DefaultFolder = "Local-Projects"

var (
	// ErrNotFound is returned when deleting a project that does not exist.
	ErrNotFound = errors.New("project path does not exist")

	// ErrOutsideWorkspace is returned for paths outside the projects folder.
	ErrOutsideWorkspace = errors.New("path is outside the projects folder")
)

// EnsureProjectsDir creates the projects folder if needed and returns its
// path. name defaults to Local-Projects and parent to the home directory;
// with only parent given, parent itself is the projects folder.
func EnsureProjectsDir(name, parent string) (string, error) {
	var dir string
	switch {
	case name != "" && parent != "":
		dir = filepath.Join(parent, name)
	case parent != "":
		dir = parent
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determining home directory: %w", err)
		}
		if name == "" {
			name = DefaultFolder
		}
		dir = filepath.Join(home, name)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating projects folder: %w", err)
	}
	return dir, nil
}

// DeleteProject removes a project directory and everything in it. path must
// lie strictly inside root once symlinks are resolved.
func DeleteProject(root, path string) error {
	target, err := confine(root, path)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// confine resolves path against the real location of root and fails unless
// the result is below it. The final element is not followed, so a symlink
// inside root is removed rather than its target.
func confine(root, path string) (string, error) {
	if root == "" || path == "" {
		return "", fmt.Errorf("refusing to delete %q: %w", path, ErrOutsideWorkspace)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving projects folder: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return "", err
	}
	target := filepath.Join(parent, filepath.Base(abs))

	rel, err := filepath.Rel(realRoot, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing to delete %s: %w", path, ErrOutsideWorkspace)
	}
	return target, nil
}

// Entry is a project found in the workspace.
type Entry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Framework string `json:"framework"`
}

// List returns the subdirectories of root that contain a package.json,
// sorted by name.
func List(root string) ([]Entry, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var out []Entry
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		path := filepath.Join(root, de.Name())
		if _, err := os.Stat(filepath.Join(path, project.ManifestName)); err != nil {
			continue
		}
		e := Entry{Name: de.Name(), Path: path, Framework: project.Unknown.Name}
		if info, err := project.Detect(path); err == nil {
			e.Framework = info.Framework
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
