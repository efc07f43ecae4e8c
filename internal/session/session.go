// Package session executes browser commands against a clicker server. A
// Session is the handler behind a dispatcher: it owns the clicker process,
// the BiDi connection, and the table of element handles.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/bidi"
	"github.com/randomizedcoder/go-vibium-sync/internal/dispatcher"
	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
	"github.com/randomizedcoder/go-vibium-sync/internal/process"
	"github.com/randomizedcoder/go-vibium-sync/internal/supervisor"
)

// DefaultDialTimeout bounds connecting to the announced endpoint.
const DefaultDialTimeout = 10 * time.Second

var (
	// ErrNotLaunched is returned by commands that need a browser before launch.
	ErrNotLaunched = errors.New("browser not launched")

	// ErrAlreadyLaunched is returned by a second launch.
	ErrAlreadyLaunched = errors.New("browser already launched")

	// ErrNoContext is returned when clicker reports no browsing context.
	ErrNoContext = errors.New("no browsing context available")
)

// UnknownMethodError is returned for a method outside the command table.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return "unknown method: " + e.Method
}

// ElementNotFoundError is returned when a handle or selector no longer
// resolves.
type ElementNotFoundError struct {
	ID       int
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	if e.Selector != "" {
		return "element not found: " + e.Selector
	}
	return fmt.Sprintf("element %d not found", e.ID)
}

// Config holds configuration for a Session.
type Config struct {
	Logger  *slog.Logger
	Verbose bool

	// Supervisor callbacks, e.g. for metrics.
	Callbacks supervisor.Callbacks

	// Timeouts. Zero values use package defaults.
	StartupTimeout time.Duration
	GracePeriod    time.Duration
	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// PingInterval enables websocket keepalive.
	PingInterval time.Duration
}

type element struct {
	selector string
	context  string
	info     bidi.ElementInfo
}

type methodFunc func(ctx context.Context, args []any) (any, error)

// Session implements dispatcher.Handler. Invoke runs only on the
// dispatcher goroutine; Kill and Close may run elsewhere, so the process
// and connection are guarded by mu.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	methods map[string]methodFunc

	mu     sync.Mutex
	sup    *supervisor.Supervisor
	client *bidi.Client

	// Owned by the dispatcher goroutine
	browsingContext string
	elements        map[int]element
	nextElementID   int
}

// New creates an idle session. Nothing is started until launch.
func New(cfg Config) *Session {
	s := &Session{
		cfg:           cfg,
		logger:        logging.OrDiscard(cfg.Logger),
		elements:      make(map[int]element),
		nextElementID: 1,
	}
	s.methods = map[string]methodFunc{
		"launch":               s.launch,
		"go":                   s.navigate,
		"screenshot":           s.screenshot,
		"find":                 s.find,
		"element.click":        s.click,
		"element.type":         s.typeText,
		"element.text":         s.text,
		"element.getAttribute": s.getAttribute,
		"element.boundingBox":  s.boundingBox,
		"quit":                 s.quit,
	}
	return s
}

// Invoke implements dispatcher.Handler.
func (s *Session) Invoke(ctx context.Context, method string, args []any) (any, error) {
	fn, ok := s.methods[method]
	if !ok {
		return nil, &UnknownMethodError{Method: method}
	}
	return fn(ctx, args)
}

// Methods lists the supported command names.
func (s *Session) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	return out
}

// =============================================================================
// Commands
// =============================================================================

func (s *Session) launch(ctx context.Context, args []any) (any, error) {
	var opts LaunchOptions
	if err := optionalArg(args, 0, &opts); err != nil {
		return nil, err
	}

	s.mu.Lock()
	launched := s.client != nil
	s.mu.Unlock()
	if launched {
		return nil, ErrAlreadyLaunched
	}

	url := opts.Endpoint
	var sup *supervisor.Supervisor
	if url == "" {
		var err error
		sup, url, err = s.spawn(ctx, opts)
		if err != nil {
			return nil, err
		}
	}

	dialTimeout := s.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := bidi.Dial(dialCtx, url, bidi.Options{
		Logger:       s.logger,
		Timeout:      s.cfg.CommandTimeout,
		PingInterval: s.cfg.PingInterval,
		OnEvent: func(e bidi.Event) {
			s.logger.Debug("bidi_event", "method", e.Method)
		},
	})
	if err != nil {
		if sup != nil {
			_ = sup.Stop()
			s.forgetSupervisor(sup)
		}
		return nil, fmt.Errorf("connect to clicker: %w", err)
	}

	s.mu.Lock()
	s.sup = sup
	s.client = client
	s.mu.Unlock()

	res := LaunchResult{Endpoint: url}
	if sup != nil {
		res.PID = sup.PID()
	}
	s.logger.Info("browser_launched", "endpoint", url, "pid", res.PID, "headed", opts.Headed)
	return res, nil
}

// spawn starts clicker and waits for its endpoint.
func (s *Session) spawn(ctx context.Context, opts LaunchOptions) (*supervisor.Supervisor, string, error) {
	path, err := process.ResolveBinary(opts.ExecutablePath)
	if err != nil {
		return nil, "", err
	}

	runner := process.NewClickerRunner(&process.ClickerConfig{
		BinaryPath: path,
		Port:       opts.Port,
		Headless:   !opts.Headed,
	})
	s.logger.Debug("spawning_clicker", "command", runner.CommandString())

	sup := supervisor.New(supervisor.Config{
		Runner:         runner,
		Logger:         s.logger,
		Callbacks:      s.cfg.Callbacks,
		StartupTimeout: s.cfg.StartupTimeout,
		GracePeriod:    s.cfg.GracePeriod,
		Verbose:        s.cfg.Verbose,
	})

	// Publish before Start so Kill can reach a process stuck in startup.
	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()

	ep, err := sup.Start(ctx)
	if err != nil {
		// A timed-out or abandoned start leaves the process running.
		_ = sup.Stop()
		s.forgetSupervisor(sup)
		return nil, "", err
	}
	return sup, ep.URL(), nil
}

func (s *Session) navigate(ctx context.Context, args []any) (any, error) {
	url, err := stringArg(args, 0, "url")
	if err != nil {
		return nil, err
	}
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	bc, err := s.getContext(ctx, client)
	if err != nil {
		return nil, err
	}

	var res bidi.NavigationResult
	err = client.SendInto(ctx, "browsingContext.navigate", map[string]any{
		"context": bc,
		"url":     url,
		"wait":    "complete",
	}, &res)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Session) screenshot(ctx context.Context, _ []any) (any, error) {
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	bc, err := s.getContext(ctx, client)
	if err != nil {
		return nil, err
	}

	var res bidi.ScreenshotResult
	if err := client.SendInto(ctx, "browsingContext.captureScreenshot", map[string]any{"context": bc}, &res); err != nil {
		return nil, err
	}
	if _, err := base64.StdEncoding.DecodeString(res.Data); err != nil {
		return nil, fmt.Errorf("screenshot data: %w", err)
	}
	return ScreenshotResult{Data: res.Data}, nil
}

func (s *Session) find(ctx context.Context, args []any) (any, error) {
	selector, err := stringArg(args, 0, "selector")
	if err != nil {
		return nil, err
	}
	var opts FindOptions
	if err := optionalArg(args, 1, &opts); err != nil {
		return nil, err
	}
	client, err := s.connected()
	if err != nil {
		return nil, err
	}
	bc, err := s.getContext(ctx, client)
	if err != nil {
		return nil, err
	}

	params := map[string]any{"context": bc, "selector": selector}
	setTimeout(params, opts.Timeout)

	var info bidi.ElementInfo
	if err := client.SendInto(ctx, "vibium:find", params, &info); err != nil {
		return nil, err
	}

	id := s.nextElementID
	s.nextElementID++
	s.elements[id] = element{selector: selector, context: bc, info: info}

	return FindResult{ElementID: id, Info: info}, nil
}

func (s *Session) click(ctx context.Context, args []any) (any, error) {
	el, client, err := s.elementArg(args)
	if err != nil {
		return nil, err
	}
	var opts ActionOptions
	if err := optionalArg(args, 1, &opts); err != nil {
		return nil, err
	}

	params := map[string]any{"context": el.context, "selector": el.selector}
	setTimeout(params, opts.Timeout)
	_, err = client.Send(ctx, "vibium:click", params)
	return nil, err
}

func (s *Session) typeText(ctx context.Context, args []any) (any, error) {
	el, client, err := s.elementArg(args)
	if err != nil {
		return nil, err
	}
	text, err := stringArg(args, 1, "text")
	if err != nil {
		return nil, err
	}
	var opts ActionOptions
	if err := optionalArg(args, 2, &opts); err != nil {
		return nil, err
	}

	params := map[string]any{"context": el.context, "selector": el.selector, "text": text}
	setTimeout(params, opts.Timeout)
	_, err = client.Send(ctx, "vibium:type", params)
	return nil, err
}

const (
	textFunction = `(selector) => {
        const el = document.querySelector(selector);
        return el ? (el.textContent || '').trim() : null;
      }`

	attributeFunction = `(selector, attrName) => {
        const el = document.querySelector(selector);
        return el ? el.getAttribute(attrName) : null;
      }`

	boundingBoxFunction = `(selector) => {
        const el = document.querySelector(selector);
        if (!el) return null;
        const rect = el.getBoundingClientRect();
        return JSON.stringify({
          x: rect.x,
          y: rect.y,
          width: rect.width,
          height: rect.height
        });
      }`
)

func (s *Session) text(ctx context.Context, args []any) (any, error) {
	el, client, err := s.elementArg(args)
	if err != nil {
		return nil, err
	}
	res, err := callFunction(ctx, client, el.context, textFunction, el.selector)
	if err != nil {
		return nil, err
	}
	if res.IsNull() {
		return nil, &ElementNotFoundError{Selector: el.selector}
	}
	return res.String()
}

// getAttribute returns *string, nil when the attribute is absent.
func (s *Session) getAttribute(ctx context.Context, args []any) (any, error) {
	el, client, err := s.elementArg(args)
	if err != nil {
		return nil, err
	}
	name, err := stringArg(args, 1, "name")
	if err != nil {
		return nil, err
	}
	res, err := callFunction(ctx, client, el.context, attributeFunction, el.selector, name)
	if err != nil {
		return nil, err
	}
	if res.IsNull() {
		return (*string)(nil), nil
	}
	v, err := res.String()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Session) boundingBox(ctx context.Context, args []any) (any, error) {
	el, client, err := s.elementArg(args)
	if err != nil {
		return nil, err
	}
	res, err := callFunction(ctx, client, el.context, boundingBoxFunction, el.selector)
	if err != nil {
		return nil, err
	}
	if res.IsNull() {
		return nil, &ElementNotFoundError{Selector: el.selector}
	}
	raw, err := res.String()
	if err != nil {
		return nil, err
	}
	var box bidi.BoundingBox
	if err := json.Unmarshal([]byte(raw), &box); err != nil {
		return nil, fmt.Errorf("bounding box: %w", err)
	}
	return box, nil
}

func (s *Session) quit(_ context.Context, _ []any) (any, error) {
	if _, err := s.connected(); err != nil {
		return nil, err
	}
	if err := s.release(); err != nil {
		return nil, err
	}
	s.logger.Info("browser_quit")
	return nil, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// release closes the connection and stops clicker. The supervisor stays
// reachable by Kill until Stop has returned, so a forced termination that
// arrives during the grace period still kills the process.
func (s *Session) release() error {
	s.mu.Lock()
	client, sup := s.client, s.sup
	s.client = nil
	s.mu.Unlock()

	s.browsingContext = ""
	clear(s.elements)

	var errs []error
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if sup != nil {
		if err := sup.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop clicker: %w", err))
		}
		s.forgetSupervisor(sup)
	}
	return errors.Join(errs...)
}

// forgetSupervisor clears sup unless a later launch has replaced it.
func (s *Session) forgetSupervisor(sup *supervisor.Supervisor) {
	s.mu.Lock()
	if s.sup == sup {
		s.sup = nil
	}
	s.mu.Unlock()
}

// Close releases anything still running. It is called by the dispatcher
// after its goroutine has exited.
func (s *Session) Close() error {
	return s.release()
}

// Kill forcibly ends the clicker process. It may run concurrently with an
// in-flight command, which then fails on its closed connection.
func (s *Session) Kill() {
	s.mu.Lock()
	client, sup := s.client, s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Kill()
	}
	if client != nil {
		_ = client.Close()
	}
	s.logger.Warn("session_killed")
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Session) connected() (*bidi.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotLaunched
	}
	return s.client, nil
}

// getContext returns the first top-level browsing context, cached.
func (s *Session) getContext(ctx context.Context, client *bidi.Client) (string, error) {
	if s.browsingContext != "" {
		return s.browsingContext, nil
	}
	var tree bidi.BrowsingContextTree
	if err := client.SendInto(ctx, "browsingContext.getTree", nil, &tree); err != nil {
		return "", err
	}
	if len(tree.Contexts) == 0 {
		return "", ErrNoContext
	}
	s.browsingContext = tree.Contexts[0].Context
	return s.browsingContext, nil
}

func (s *Session) elementArg(args []any) (element, *bidi.Client, error) {
	id, err := intArg(args, 0, "element id")
	if err != nil {
		return element{}, nil, err
	}
	el, ok := s.elements[id]
	if !ok {
		return element{}, nil, &ElementNotFoundError{ID: id}
	}
	client, err := s.connected()
	if err != nil {
		return element{}, nil, err
	}
	return el, client, nil
}

func callFunction(ctx context.Context, client *bidi.Client, bc, fn string, args ...string) (bidi.ScriptResult, error) {
	arguments := make([]map[string]any, len(args))
	for i, a := range args {
		arguments[i] = map[string]any{"type": "string", "value": a}
	}

	var res bidi.ScriptResult
	err := client.SendInto(ctx, "script.callFunction", map[string]any{
		"functionDeclaration": fn,
		"target":              map[string]any{"context": bc},
		"arguments":           arguments,
		"awaitPromise":        false,
		"resultOwnership":     "root",
	}, &res)
	return res, err
}

var _ dispatcher.Handler = (*Session)(nil)
var _ dispatcher.Killer = (*Session)(nil)
