// Package project inspects a JavaScript project directory: which framework it
// uses, which package manager owns it, and how to launch its dev server.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/benaskins/devdeck/internal/command"
)

// ManifestName is the file every project is expected to carry.
const ManifestName = "package.json"

var (
	// ErrUnsupportedFramework is returned when no known framework is a dependency.
	ErrUnsupportedFramework = errors.New("unsupported framework")
	// ErrInvalidManifest is returned when package.json is not valid JSON.
	ErrInvalidManifest = errors.New("invalid package.json")
	// ErrNoLockFile is returned by DetectRuntime when no lock file is present.
	ErrNoLockFile = errors.New("no supported package manager lock file found")
)

// Framework is a supported web framework.
type Framework struct {
	Name string
	// Dependency is the package whose presence identifies the framework.
	Dependency string
	// Entry is the dev-server script, relative to the project's node_modules.
	Entry []string
	// Args follow the script on the command line.
	Args []string
}

// Unknown is reported for projects that match no framework.
var Unknown = Framework{Name: "Unknown"}

// Frameworks in detection order. React must be checked after Next.js since
// every Next.js app also depends on react; likewise Vue after Nuxt.
var Frameworks = []Framework{
	{Name: "Next.js", Dependency: "next", Entry: []string{"next", "dist", "bin", "next"}, Args: []string{"dev"}},
	{Name: "React", Dependency: "react", Entry: []string{"react-scripts", "scripts", "start.js"}},
	{Name: "Nuxt.js", Dependency: "nuxt", Entry: []string{"nuxt", "bin", "nuxt.mjs"}, Args: []string{"dev"}},
	{Name: "Vue.js", Dependency: "vue", Entry: []string{"vite", "dist", "node", "cli.js"}},
}

// Package is a declared dependency.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Info summarises a project.
type Info struct {
	Framework string    `json:"framework"`
	Runtime   Runtime   `json:"runtime"`
	Packages  []Package `json:"packages"`
}

// Detect reads dir/package.json and reports framework, runtime and packages.
// A project without a lock file is assumed to use npm.
func Detect(dir string) (*Info, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	rt, err := DetectRuntime(dir)
	if err != nil {
		rt = NPM
	}

	return &Info{
		Framework: detectFramework(manifest).Name,
		Runtime:   rt,
		Packages:  packages(manifest),
	}, nil
}

// LaunchCommand returns the command line that starts dir's dev server with
// node, for example: node "/home/me/site/node_modules/next/dist/bin/next" dev
func LaunchCommand(dir string) (string, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return "", err
	}

	fw := detectFramework(manifest)
	if fw.Dependency == "" {
		return "", fmt.Errorf("%s: %w", dir, ErrUnsupportedFramework)
	}

	parts := append([]string{dir, "node_modules"}, fw.Entry...)
	line := "node " + command.Quote(filepath.Join(parts...))
	for _, a := range fw.Args {
		line += " " + a
	}
	return line, nil
}

func readManifest(dir string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ManifestName, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: %w", dir, ErrInvalidManifest)
	}
	return data, nil
}

func detectFramework(manifest []byte) Framework {
	deps := gjson.GetBytes(manifest, "dependencies")
	for _, fw := range Frameworks {
		if deps.Get(gjson.Escape(fw.Dependency)).Exists() {
			return fw
		}
	}
	return Unknown
}

// packages lists dependencies then devDependencies, each group sorted by name.
func packages(manifest []byte) []Package {
	var out []Package
	for _, section := range []string{"dependencies", "devDependencies"} {
		var group []Package
		gjson.GetBytes(manifest, section).ForEach(func(key, value gjson.Result) bool {
			version := "unknown"
			if value.Type == gjson.String {
				version = value.Str
			}
			group = append(group, Package{Name: key.String(), Version: version})
			return true
		})
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		out = append(out, group...)
	}
	return out
}
