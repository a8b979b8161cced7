// Package deps reports availability of the external binaries the
// publishing pipeline shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary crosspost depends on.
type Requirement struct {
	Name        string
	Command     string
	Description string
}

// Status reports whether a required binary resolves on PATH.
type Status struct {
	Name        string
	Command     string
	Description string
	Available   bool
	Detail      string
}

// Check resolves each requirement's command and reports availability.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		command := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     command,
			Description: strings.TrimSpace(req.Description),
		}
		switch {
		case command == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(command); err == nil {
				status.Command = resolved
				status.Available = true
			} else {
				status.Detail = fmt.Sprintf("binary %q not found", command)
			}
		}
		results = append(results, status)
	}
	return results
}
