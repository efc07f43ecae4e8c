package bidi

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for commands pending or sent after Close, or
	// after the connection dropped.
	ErrClosed = errors.New("bidi: connection closed")

	// ErrTimeout is returned when no response arrived within the command timeout.
	ErrTimeout = errors.New("bidi: command timed out")
)

// Error is a failure reported by the server, either for one command or for
// the whole connection.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(w wireError) *Error {
	code := w.Error
	if code == "" {
		code = "unknown error"
	}
	msg := w.Message
	if msg == "" {
		msg = "no message"
	}
	return &Error{Code: code, Message: msg}
}
