package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/devdeck/internal/api"
	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/pkgmgr"
	"github.com/benaskins/devdeck/internal/project"
	"github.com/benaskins/devdeck/internal/workspace"
)

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// submitTask posts a task and, with wait, follows its status messages until
// the daemon reports a final outcome.
func submitTask(path string, body any, wait bool, action pkgmgr.Action, dir string) error {
	if !wait {
		var result map[string]string
		if err := apiPost(path, body, &result); err != nil {
			return err
		}
		fmt.Println(result["status"])
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	conn, err := dialEvents(ctx, nil)
	if err != nil {
		return err
	}
	if err := apiPost(path, body, nil); err != nil {
		conn.Close()
		return err
	}
	// progress messages end in an ellipsis; anything else is the outcome
	return readEvents(ctx, conn, func(ev events.Event) bool {
		return ev.Kind == events.TaskStatus && ev.Task == string(action) &&
			ev.Path == dir && !strings.HasSuffix(ev.Message, "...")
	})
}

func depsCommand(action pkgmgr.Action, use, short string, nargs cobra.PositionalArgs) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  nargs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			rt, _ := cmd.Flags().GetString("runtime")
			version, _ := cmd.Flags().GetString("version")
			wait, _ := cmd.Flags().GetBool("wait")

			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			task := pkgmgr.Task{Action: action, Runtime: project.Runtime(rt), Dir: abs, Version: version}
			if len(args) > 0 {
				task.Name = args[0]
			}
			return submitTask("/v1/deps", task, wait, action, abs)
		},
	}
	c.Flags().StringP("dir", "C", ".", "project directory")
	c.Flags().String("runtime", "", "package manager (npm, pnpm, yarn); detected from the lock file when empty")
	c.Flags().BoolP("wait", "w", false, "wait for the task to finish")
	if action == pkgmgr.Add || action == pkgmgr.Update {
		c.Flags().String("version", "", "version to install")
	}
	return c
}

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage a project's dependencies",
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Scaffold a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _ := cmd.Flags().GetString("runtime")
		framework, _ := cmd.Flags().GetString("framework")
		location, _ := cmd.Flags().GetString("location")
		wait, _ := cmd.Flags().GetBool("wait")

		if location == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if location, err = workspace.EnsureProjectsDir("", cfg.ProjectsDir); err != nil {
				return err
			}
		}
		location, err := filepath.Abs(location)
		if err != nil {
			return err
		}
		req := api.CreateRequest{
			Runtime:   project.Runtime(rt),
			Framework: framework,
			Name:      args[0],
			Location:  location,
		}
		return submitTask("/v1/create", req, wait, pkgmgr.Create, location)
	},
}

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Reveal a project in the file browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		return apiPost("/v1/open", api.PathRequest{Path: path}, nil)
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <path>",
	Short: "Open a project in an editor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		editor, _ := cmd.Flags().GetString("editor")
		return apiPost("/v1/edit", api.PathRequest{Path: path, Editor: editor}, nil)
	},
}

func init() {
	depsCmd.AddCommand(
		depsCommand(pkgmgr.Add, "add <package>", "Install a dependency", cobra.ExactArgs(1)),
		depsCommand(pkgmgr.Update, "update <package>", "Update a dependency", cobra.ExactArgs(1)),
		depsCommand(pkgmgr.Remove, "remove <package>", "Remove a dependency", cobra.ExactArgs(1)),
		depsCommand(pkgmgr.Reinstall, "reinstall", "Reinstall all dependencies", cobra.NoArgs),
	)

	createCmd.Flags().String("runtime", "npm", "package manager (npm, pnpm, yarn)")
	createCmd.Flags().String("framework", "next.js", "framework (next.js, vue, nuxt)")
	createCmd.Flags().String("location", "", "parent folder (default: the projects folder)")
	createCmd.Flags().BoolP("wait", "w", false, "wait for scaffolding to finish")

	editCmd.Flags().String("editor", "", "editor command (default from config)")

	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(editCmd)
}
