//go:build !windows
// +build !windows

package instance

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// expectedProcessName is the comm name a PID must carry to be recognized
// as a taskfactoryd instance rather than a reused PID.
const expectedProcessName = "taskfactoryd"

// IsProcessRunning checks if a process with the given PID is running
// and verifies it's actually taskfactoryd (not a PID reuse).
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}

	if err := unix.Kill(pid, 0); err != nil {
		if err == unix.ESRCH {
			return false, nil
		}
		if err == unix.EPERM {
			// Process exists but we don't own it; still verify the name.
		} else {
			return false, err
		}
	}

	name, err := GetProcessName(pid)
	if err != nil {
		// Process vanished between the signal probe and the /proc read.
		return false, nil
	}

	return strings.EqualFold(name, expectedProcessName), nil
}

// GetProcessName retrieves the comm name for a given PID from /proc.
func GetProcessName(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", fmt.Errorf("failed to read process name: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetProcessStartTime retrieves the start time of a process from its
// ctime on /proc/<pid>, which tracks process creation closely enough for
// conflict-resolution display purposes.
func GetProcessStartTime(pid int) (time.Time, error) {
	info, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat process: %w", err)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime(), nil
	}

	return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec), nil
}

// KillProcess forcefully terminates a process with SIGKILL.
func KillProcess(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
