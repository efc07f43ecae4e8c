package bridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches any *TimeoutError.
	ErrTimeout = errors.New("call timed out")

	// ErrNoResponse is returned when the execution context went away
	// without answering the call.
	ErrNoResponse = errors.New("no response from execution context")

	// ErrTerminated is returned by calls on a bridge that has quit or been
	// terminated.
	ErrTerminated = errors.New("bridge terminated")
)

// TimeoutError reports that a call's bound expired. The command may still
// complete in the execution context; its reply is discarded.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s: timed out after %s", e.Method, e.Timeout)
	}
	return fmt.Sprintf("%s: timed out", e.Method)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// CallError is a failure reported by the execution context for one call.
type CallError struct {
	ID      uint64
	Method  string
	Message string
	Err     error
}

func (e *CallError) Error() string {
	return e.Message
}

func (e *CallError) Unwrap() error { return e.Err }
