//go:build darwin

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

func launchAgentPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home dir: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist"), nil
}

func launchDomain() string {
	return "gui/" + strconv.Itoa(os.Getuid())
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the devdeck daemon as a LaunchAgent (starts on login)",
	RunE: func(cmd *cobra.Command, args []string) error {
		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("finding binary path: %w", err)
		}
		binary, err = filepath.EvalSymlinks(binary)
		if err != nil {
			return fmt.Errorf("resolving binary path: %w", err)
		}

		home, err := devdeckHome()
		if err != nil {
			return err
		}
		logPath := filepath.Join(home, "daemon.log")

		plistPath, err := launchAgentPath()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(plistPath), 0755); err != nil {
			return fmt.Errorf("creating LaunchAgents dir: %w", err)
		}

		plist, err := launchAgentPlist(binary, logPath)
		if err != nil {
			return fmt.Errorf("rendering plist: %w", err)
		}
		if err := os.WriteFile(plistPath, []byte(plist), 0644); err != nil {
			return fmt.Errorf("writing plist: %w", err)
		}

		// a previous install may still be loaded
		_ = exec.Command("launchctl", "bootout", launchDomain(), plistPath).Run()
		if out, err := exec.Command("launchctl", "bootstrap", launchDomain(), plistPath).CombinedOutput(); err != nil {
			return fmt.Errorf("launchctl bootstrap: %w: %s", err, out)
		}

		fmt.Printf("Installed LaunchAgent: %s\n", plistPath)
		fmt.Printf("Binary: %s\n", binary)
		fmt.Printf("Logs: %s\n", logPath)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the devdeck LaunchAgent",
	RunE: func(cmd *cobra.Command, args []string) error {
		plistPath, err := launchAgentPath()
		if err != nil {
			return err
		}

		// not loaded is fine
		_ = exec.Command("launchctl", "bootout", launchDomain(), plistPath).Run()

		if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing plist: %w", err)
		}
		fmt.Println("Uninstalled devdeck LaunchAgent.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
