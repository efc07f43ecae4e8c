// Package process builds the command lines for the managed clicker process.
package process

import (
	"os/exec"
)

// Runner creates executable commands for the supervisor.
// This interface allows the supervisor to be process-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command. The command must not
	// be started yet and must not be bound to a context: its lifetime is
	// owned by the supervisor, not by whoever called Start.
	BuildCommand() (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}
