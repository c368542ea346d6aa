// Package pkgmgr runs one-shot package-manager tasks: adding, updating and
// removing dependencies, reinstalling node_modules, and scaffolding new
// projects. Commands are built as argument vectors and never pass through a
// shell.
package pkgmgr

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/benaskins/devdeck/internal/project"
)

// ErrUnsupportedFramework is returned when asked to scaffold a framework that
// has no create command.
var ErrUnsupportedFramework = errors.New("unsupported framework")

// Action is a package-manager operation.
type Action string

const (
	Add       Action = "add"
	Update    Action = "update"
	Remove    Action = "remove"
	Reinstall Action = "reinstall"
	Create    Action = "create"
)

// Task describes one package-manager operation.
type Task struct {
	Action  Action          `json:"action"`
	Runtime project.Runtime `json:"runtime"`
	// Dir is the project directory, or for Create the parent directory the
	// new project is created in.
	Dir string `json:"dir"`
	// Name is the dependency, or for Create the new project's name.
	Name      string `json:"name,omitempty"`
	Version   string `json:"version,omitempty"`
	Framework string `json:"framework,omitempty"`
}

// Step is a single command to run.
type Step struct {
	Argv []string
	Dir  string
}

func (s Step) String() string { return strings.Join(s.Argv, " ") }

// Plan expands a task into the commands that carry it out.
func Plan(t Task) ([]Step, error) {
	rt, err := project.ParseRuntime(string(t.Runtime))
	if err != nil {
		return nil, err
	}

	switch t.Action {
	case Add, Update, Remove:
		if t.Name == "" {
			return nil, fmt.Errorf("%s: dependency name is required", t.Action)
		}
		return []Step{{Argv: dependencyArgs(t.Action, rt, t.Name, t.Version), Dir: t.Dir}}, nil
	case Reinstall:
		return []Step{{Argv: []string{string(rt), "install", "--force"}, Dir: t.Dir}}, nil
	case Create:
		return createSteps(rt, t.Framework, t.Name, t.Dir)
	}
	return nil, fmt.Errorf("unknown action %q", t.Action)
}

func dependencyArgs(action Action, rt project.Runtime, name, version string) []string {
	spec := name
	if version != "" {
		spec = name + "@" + version
	}

	// updating to a pinned version is an install of that version
	if action == Update && version != "" {
		action = Add
	}

	verbs := map[Action]map[project.Runtime]string{
		Add:    {project.PNPM: "add", project.NPM: "install", project.Yarn: "add"},
		Update: {project.PNPM: "update", project.NPM: "update", project.Yarn: "upgrade"},
		Remove: {project.PNPM: "remove", project.NPM: "uninstall", project.Yarn: "remove"},
	}
	if action == Remove {
		spec = name
	}
	return []string{string(rt), verbs[action][rt], spec}
}

func createSteps(rt project.Runtime, framework, name, location string) ([]Step, error) {
	if name == "" {
		return nil, errors.New("create: project name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("create: invalid project name %q", name)
	}

	var argv []string
	switch normalizeFramework(framework) {
	case "next.js":
		flags := []string{"--ts", "--eslint", "--tailwind", "--src-dir", "--app", "--no-import-alias"}
		switch rt {
		case project.PNPM:
			argv = append([]string{"pnpm", "dlx", "create-next-app", name}, flags...)
		case project.NPM:
			argv = append([]string{"npx", "create-next-app@latest", name, "--yes"}, flags...)
		case project.Yarn:
			argv = append([]string{"yarn", "create", "next-app", name}, flags...)
		}
		return []Step{{Argv: argv, Dir: location}}, nil

	case "vue":
		flags := []string{"--", "--typescript", "--eslint-with-prettier"}
		switch rt {
		case project.PNPM:
			argv = append([]string{"pnpm", "create", "vue@latest", name}, flags...)
		case project.NPM:
			argv = append([]string{"npm", "create", "vue@latest", name}, flags...)
		case project.Yarn:
			argv = append([]string{"yarn", "dlx", "create-vue@latest", name}, flags...)
		}
		// create-vue only scaffolds; dependencies are installed separately
		return []Step{
			{Argv: argv, Dir: location},
			{Argv: []string{string(rt), "install"}, Dir: filepath.Join(location, name)},
		}, nil

	case "nuxt":
		tail := []string{"init", name, "--gitInit", "--packageManager", string(rt)}
		switch rt {
		case project.PNPM:
			argv = append([]string{"pnpm", "dlx", "nuxi@latest"}, tail...)
		case project.NPM:
			argv = append([]string{"npx", "nuxi@latest"}, tail...)
		case project.Yarn:
			argv = append([]string{"yarn", "dlx", "nuxi@latest"}, tail...)
		}
		return []Step{{Argv: argv, Dir: location}}, nil
	}
	return nil, fmt.Errorf("%w %q (expected next.js, vue or nuxt)", ErrUnsupportedFramework, framework)
}

func normalizeFramework(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "next.js", "nextjs", "next":
		return "next.js"
	case "vue", "vue.js", "vuejs":
		return "vue"
	case "nuxt", "nuxt.js", "nuxtjs":
		return "nuxt"
	}
	return ""
}
