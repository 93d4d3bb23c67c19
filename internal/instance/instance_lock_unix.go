//go:build !windows
// +build !windows

package instance

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AcquireLock acquires an exclusive advisory lock to prevent multiple
// instances from starting concurrently.
func (m *InstanceManager) AcquireLock() error {
	lockPath := m.pidFilePath + ".lock"

	fd, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to acquire lock (another instance may be starting): %w", err)
	}

	m.lockFD = uintptr(fd)
	m.acquiredLock = true

	pidStr := fmt.Sprintf("%d", os.Getpid())
	if _, err := unix.Write(fd, []byte(pidStr)); err != nil {
		// Non-fatal - lock is still acquired
		fmt.Printf("Warning: Failed to write PID to lock file: %v\n", err)
	}

	return nil
}

// ReleaseLock releases the exclusive lock.
func (m *InstanceManager) ReleaseLock() error {
	if !m.acquiredLock {
		return nil
	}

	if m.lockFD != 0 {
		fd := int(m.lockFD)
		if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
			fmt.Printf("Warning: Failed to unlock lock file: %v\n", err)
		}
		if err := unix.Close(fd); err != nil {
			fmt.Printf("Warning: Failed to close lock file: %v\n", err)
		}
		m.lockFD = 0
	}

	lockPath := m.pidFilePath + ".lock"
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: Failed to remove lock file: %v\n", err)
	}

	m.acquiredLock = false
	return nil
}
