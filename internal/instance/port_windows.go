//go:build windows
// +build windows

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
	cmd := exec.Command("cmd", "/C", fmt.Sprintf("netstat -ano | findstr :%d | findstr LISTENING", port))
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("netstat command failed: %w", err)
	}

	outputStr := strings.TrimSpace(string(output))
	if outputStr == "" {
		return 0, fmt.Errorf("no process found listening on port %d", port)
	}

	// Parse netstat output
	// Format: "  TCP    0.0.0.0:3000    0.0.0.0:0    LISTENING       11316"
	// or:     "  TCP    [::]:3000      [::]:0       LISTENING       11316"
	lines := strings.Split(outputStr, "\n")
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		// The PID is the last field
		pidStr := fields[len(fields)-1]
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}

		return pid, nil
	}

	return 0, fmt.Errorf("could not parse PID from netstat output")
}
