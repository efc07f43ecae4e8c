// Package supervisor owns the lifecycle of the managed clicker process:
// spawning it, discovering the endpoint it announces, and shutting it down.
package supervisor

// State represents the lifecycle state of the managed process.
type State int

const (
	// StateUnstarted is the initial state before Start.
	StateUnstarted State = iota

	// StateStarting indicates the process has been spawned and the
	// supervisor is waiting for its listen line.
	StateStarting

	// StateRunning indicates the endpoint has been discovered.
	StateRunning

	// StateStopping indicates termination signals have been sent.
	StateStopping

	// StateStopped indicates the process exit has been observed (or the
	// process never started).
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true while a process may be alive.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// IsTerminal returns true if the state is terminal (stopped).
func (s State) IsTerminal() bool {
	return s == StateStopped
}
