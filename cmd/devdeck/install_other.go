//go:build !darwin

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var errLaunchAgentOnly = errors.New("daemon installation is only available on macOS; run `devdeck daemon` under your service manager instead")

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the devdeck daemon as a LaunchAgent (macOS only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errLaunchAgentOnly
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the devdeck LaunchAgent (macOS only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errLaunchAgentOnly
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
