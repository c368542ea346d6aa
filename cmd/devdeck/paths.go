package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/benaskins/devdeck/internal/config"
)

// devdeckHome returns the devdeck home directory (~/.devdeck), creating it.
func devdeckHome() (string, error) {
	dir := config.Dir()
	if dir == "" {
		return "", errors.New("cannot determine home directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func defaultSocketPath() string {
	dir := config.Dir()
	if dir == "" {
		return filepath.Join(os.TempDir(), "devdeck.sock")
	}
	return filepath.Join(dir, "devdeck.sock")
}
