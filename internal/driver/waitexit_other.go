//go:build !linux && !darwin && !windows

package driver

import "errors"

func waitExit(pid int) error { return errors.ErrUnsupported }
