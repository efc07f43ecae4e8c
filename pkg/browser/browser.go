// Package browser is a blocking client for the clicker browser-automation
// server.
//
//	b, err := browser.Launch(ctx, browser.LaunchOptions{})
//	if err != nil {
//		return err
//	}
//	defer b.Quit()
//
//	if err := b.Go(ctx, "https://example.com"); err != nil {
//		return err
//	}
//	link, err := b.Find(ctx, "a", browser.FindOptions{})
//
// Every call blocks until clicker has answered. Programs that launch
// browsers should call QuitAll before exiting, or HandleSignals to do so on
// SIGINT/SIGTERM, so no clicker process outlives them.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/bidi"
	"github.com/randomizedcoder/go-vibium-sync/internal/bridge"
	"github.com/randomizedcoder/go-vibium-sync/internal/process"
	"github.com/randomizedcoder/go-vibium-sync/internal/session"
	"github.com/randomizedcoder/go-vibium-sync/internal/supervisor"
)

// Errors callers may test for with errors.Is.
var (
	ErrTimeout        = bridge.ErrTimeout
	ErrNoResponse     = bridge.ErrNoResponse
	ErrTerminated     = bridge.ErrTerminated
	ErrBinaryNotFound = process.ErrBinaryNotFound
	ErrStartupTimeout = supervisor.ErrStartupTimeout
	ErrExitedEarly    = supervisor.ErrExitedEarly
)

// BoundingBox is an element's position in CSS pixels.
type BoundingBox = bidi.BoundingBox

// ElementInfo is what clicker reported when the element was found.
type ElementInfo = bidi.ElementInfo

// Observer receives lifecycle and call events. Any field may be nil.
type Observer struct {
	OnCall        func(method string, elapsed time.Duration, err error)
	OnStart       func(pid int)
	OnReady       func(endpoint string, startup time.Duration)
	OnExit        func(exitCode int, uptime time.Duration)
	OnForceKill   func(pid int)
	OnQuit        func(graceful bool)
	OnStateChange func(oldState, newState string)
}

// LaunchOptions configures Launch.
type LaunchOptions struct {
	// Headed shows the browser window. The zero value runs headless.
	Headed bool

	// Port asks clicker for a fixed port. 0 lets it choose.
	Port int

	// ExecutablePath is the clicker binary. Empty searches $CLICKER_PATH,
	// then $PATH.
	ExecutablePath string

	// Endpoint connects to an already running clicker instead of starting one.
	Endpoint string

	// CallTimeout bounds each call whose context has no deadline.
	// 0 leaves calls bounded only by clicker's own timeouts.
	CallTimeout time.Duration

	// StartupTimeout bounds the wait for clicker to report its endpoint.
	StartupTimeout time.Duration

	// GracePeriod is the SIGTERM to SIGKILL delay when stopping clicker.
	GracePeriod time.Duration

	Logger   *slog.Logger
	Verbose  bool
	Observer Observer

	// registry overrides the process-wide registry in tests
	registry *bridge.Registry

	// sessionConfig is merged into the session config in tests
	sessionConfig session.Config

	// quitTimeout shortens the quit bound in tests
	quitTimeout time.Duration
}

// FindOptions configures Find.
type FindOptions struct {
	// Timeout is how long clicker waits for the element to appear.
	Timeout time.Duration
}

// ActionOptions configures Click and Type.
type ActionOptions struct {
	// Timeout bounds the actionability checks.
	Timeout time.Duration
}

// Browser is a launched browser session.
type Browser struct {
	bridge   *bridge.Bridge
	endpoint string
	pid      int
}

// Launch starts clicker (unless Endpoint is set), connects to it, and
// returns the session. ctx bounds the launch only.
func Launch(ctx context.Context, opts LaunchOptions) (*Browser, error) {
	obs := opts.Observer

	scfg := opts.sessionConfig
	scfg.Logger = opts.Logger
	scfg.Verbose = opts.Verbose
	if opts.StartupTimeout > 0 {
		scfg.StartupTimeout = opts.StartupTimeout
	}
	if opts.GracePeriod > 0 {
		scfg.GracePeriod = opts.GracePeriod
	}
	scfg.Callbacks = supervisorCallbacks(obs)

	br := bridge.New(bridge.Config{
		Handler:     session.New(scfg),
		Logger:      opts.Logger,
		Registry:    opts.registry,
		CallTimeout: opts.CallTimeout,
		QuitTimeout: opts.quitTimeout,
		Callbacks: bridge.Callbacks{
			OnCall: obs.OnCall,
			OnQuit: func(_ string, graceful bool) {
				if obs.OnQuit != nil {
					obs.OnQuit(graceful)
				}
			},
		},
	})

	res, err := br.Call(ctx, "launch", session.LaunchOptions{
		Headed:         opts.Headed,
		Port:           opts.Port,
		ExecutablePath: opts.ExecutablePath,
		Endpoint:       opts.Endpoint,
	})
	if err != nil {
		br.Terminate()
		return nil, fmt.Errorf("launch: %w", err)
	}

	lr := res.(session.LaunchResult)
	return &Browser{bridge: br, endpoint: lr.Endpoint, pid: lr.PID}, nil
}

func supervisorCallbacks(obs Observer) supervisor.Callbacks {
	cb := supervisor.Callbacks{
		OnStart:     obs.OnStart,
		OnExit:      obs.OnExit,
		OnForceKill: obs.OnForceKill,
	}
	if obs.OnReady != nil {
		cb.OnReady = func(ep supervisor.Endpoint, startup time.Duration) {
			obs.OnReady(ep.URL(), startup)
		}
	}
	if obs.OnStateChange != nil {
		cb.OnStateChange = func(o, n supervisor.State) {
			obs.OnStateChange(o.String(), n.String())
		}
	}
	return cb
}

// Go navigates to url and waits for the load to complete.
func (b *Browser) Go(ctx context.Context, url string) error {
	_, err := b.bridge.Call(ctx, "go", url)
	return err
}

// Screenshot captures the viewport as PNG.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	res, err := b.bridge.Call(ctx, "screenshot")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(res.(session.ScreenshotResult).Data)
}

// Find waits for an element matching the CSS selector.
func (b *Browser) Find(ctx context.Context, selector string, opts FindOptions) (*Element, error) {
	res, err := b.bridge.Call(ctx, "find", selector, session.FindOptions{Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	fr := res.(session.FindResult)
	return &Element{bridge: b.bridge, id: fr.ElementID, selector: selector, info: fr.Info}, nil
}

// Quit closes the browser and stops clicker. If clicker does not respond
// within five seconds it is killed. Quit never fails and may be called
// more than once.
func (b *Browser) Quit() {
	b.bridge.Quit()
}

// Endpoint returns the websocket URL of the clicker server.
func (b *Browser) Endpoint() string {
	return b.endpoint
}

// PID returns the clicker process id, or 0 when connected to an existing server.
func (b *Browser) PID() int {
	return b.pid
}

// ID returns the session's unique id.
func (b *Browser) ID() string {
	return b.bridge.ID()
}

// QuitAll quits every browser launched by this process.
func QuitAll() {
	bridge.DefaultRegistry().QuitAll()
}

// HandleSignals quits every browser and exits with 130 on SIGINT or 143 on
// SIGTERM. It blocks until ctx is done; run it in a goroutine.
func HandleSignals(ctx context.Context) {
	bridge.DefaultRegistry().HandleSignals(ctx)
}
