package supervisor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSpawn matches any *SpawnError.
	ErrSpawn = errors.New("spawn failed")

	// ErrStartupTimeout matches any *StartupTimeoutError.
	ErrStartupTimeout = errors.New("startup timeout")

	// ErrExitedEarly matches any *ExitedEarlyError.
	ErrExitedEarly = errors.New("process exited before announcing endpoint")

	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("supervisor already started")

	errStoppedBeforeStart = errors.New("stopped before the process was started")
)

// SpawnError reports that the executable could not be launched at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSpawn) true.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// StartupTimeoutError reports that no listen line arrived in time. The
// process is left running; the caller decides whether to Stop it.
type StartupTimeoutError struct {
	Timeout time.Duration
	Output  string
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("timeout waiting for clicker to start after %s", e.Timeout)
	if e.Output != "" {
		msg += "\nOutput:\n" + e.Output
	}
	return msg
}

// Is makes errors.Is(err, ErrStartupTimeout) true.
func (e *StartupTimeoutError) Is(target error) bool { return target == ErrStartupTimeout }

// ExitedEarlyError reports that the process exited before announcing its
// endpoint. Output holds the captured output for diagnostics.
type ExitedEarlyError struct {
	ExitCode int
	Output   string
}

func (e *ExitedEarlyError) Error() string {
	return fmt.Sprintf("clicker exited with code %d\nOutput: %s", e.ExitCode, e.Output)
}

// Is makes errors.Is(err, ErrExitedEarly) true.
func (e *ExitedEarlyError) Is(target error) bool { return target == ErrExitedEarly }
