package session

import (
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/bidi"
)

// LaunchOptions is the argument of the launch command.
type LaunchOptions struct {
	// Headed shows the browser window (clicker --headed). The zero value
	// runs headless, which is clicker's own default.
	Headed bool

	// Port asks clicker to listen on a fixed port. 0 lets it choose.
	Port int

	// ExecutablePath overrides binary discovery.
	ExecutablePath string

	// Endpoint connects to an already running clicker instead of spawning
	// one, e.g. "ws://localhost:9515".
	Endpoint string
}

// FindOptions is the optional argument of find.
type FindOptions struct {
	// Timeout is how long clicker waits for the element. 0 uses the server default.
	Timeout time.Duration
}

// ActionOptions is the optional argument of element.click and element.type.
type ActionOptions struct {
	// Timeout bounds the actionability checks. 0 uses the server default.
	Timeout time.Duration
}

// LaunchResult is returned by launch.
type LaunchResult struct {
	Endpoint string
	PID      int
}

// FindResult is returned by find. ElementID is the handle used by the
// element.* commands.
type FindResult struct {
	ElementID int
	Info      bidi.ElementInfo
}

// ScreenshotResult is returned by screenshot. Data is base64-encoded PNG.
type ScreenshotResult struct {
	Data string
}

// setTimeout adds a millisecond timeout to params when d is set.
func setTimeout(params map[string]any, d time.Duration) {
	if d > 0 {
		params["timeout"] = d.Milliseconds()
	}
}
