//go:build !windows
// +build !windows

package instance

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GetProcessUsingPort attempts to find which process is using a given port.
// Returns PID of the process, or 0 if not found.
func GetProcessUsingPort(port int) (int, error) {
	cmd := exec.Command("lsof", "-t", "-i", fmt.Sprintf(":%d", port), "-sTCP:LISTEN")
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("lsof command failed: %w", err)
	}

	outputStr := strings.TrimSpace(string(output))
	if outputStr == "" {
		return 0, fmt.Errorf("no process found listening on port %d", port)
	}

	// lsof -t prints one PID per line when multiple sockets match; take the first.
	line := strings.SplitN(outputStr, "\n", 2)[0]
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("could not parse PID from lsof output: %w", err)
	}

	return pid, nil
}
