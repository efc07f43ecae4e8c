// Package bridge exposes a blocking call interface over a dispatcher. Each
// Bridge owns one execution goroutine; Call hands a command to it and
// waits on that command's own reply channel, so replies can never cross
// between calls.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/randomizedcoder/go-vibium-sync/internal/dispatcher"
	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
)

// DefaultQuitTimeout bounds the graceful quit before Terminate is used.
const DefaultQuitTimeout = 5 * time.Second

// QuitMethod is the command Quit sends.
const QuitMethod = "quit"

// Callbacks contains optional callback functions for bridge events.
type Callbacks struct {
	// OnCall is called after every call with its outcome.
	OnCall func(method string, elapsed time.Duration, err error)

	// OnQuit is called once when the bridge shuts down. graceful is false
	// when Terminate was needed.
	OnQuit func(id string, graceful bool)
}

// Config holds configuration for a Bridge.
type Config struct {
	Handler dispatcher.Handler
	Logger  *slog.Logger

	// Registry tracks the bridge for QuitAll. Nil uses DefaultRegistry().
	Registry *Registry

	// CallTimeout bounds calls whose context has no deadline. 0 means unbounded.
	CallTimeout time.Duration

	// QuitTimeout defaults to DefaultQuitTimeout.
	QuitTimeout time.Duration

	Callbacks Callbacks

	// Observer is passed to the dispatcher.
	Observer dispatcher.Observer
}

// Bridge is a synchronous front for one execution context.
type Bridge struct {
	id          string
	disp        *dispatcher.Dispatcher
	registry    *Registry
	logger      *slog.Logger
	callTimeout time.Duration
	quitTimeout time.Duration
	callbacks   Callbacks

	// sem admits one outstanding call at a time
	sem    chan struct{}
	nextID atomic.Uint64

	terminated atomic.Bool
	quitOnce   sync.Once

	// stopped is closed when the bridge terminates, releasing waiting callers
	stopped chan struct{}
}

// New starts the execution context and registers the bridge.
func New(cfg Config) *Bridge {
	id := ulid.Make().String()
	logger := logging.OrDiscard(cfg.Logger).With("bridge", id)

	quitTimeout := cfg.QuitTimeout
	if quitTimeout <= 0 {
		quitTimeout = DefaultQuitTimeout
	}
	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	b := &Bridge{
		id: id,
		disp: dispatcher.New(dispatcher.Config{
			Handler:  cfg.Handler,
			Logger:   logger,
			Observer: cfg.Observer,
		}),
		registry:    registry,
		logger:      logger,
		callTimeout: cfg.CallTimeout,
		quitTimeout: quitTimeout,
		callbacks:   cfg.Callbacks,
		sem:         make(chan struct{}, 1),
		stopped:     make(chan struct{}),
	}

	registry.add(b)
	logger.Debug("bridge_created")
	return b
}

// Call runs method in the execution context and blocks until it replies,
// the bound expires, or the execution context goes away.
//
// Errors:
//   - *CallError: the command ran and failed
//   - *TimeoutError: ctx deadline or CallTimeout expired first
//   - ErrNoResponse: the execution context stopped without replying
//   - ErrTerminated: the bridge has quit
func (b *Bridge) Call(ctx context.Context, method string, args ...any) (any, error) {
	start := time.Now()
	result, err := b.call(ctx, method, args)
	if b.callbacks.OnCall != nil {
		b.callbacks.OnCall(method, time.Since(start), err)
	}
	return result, err
}

func (b *Bridge) call(ctx context.Context, method string, args []any) (any, error) {
	if b.terminated.Load() {
		return nil, ErrTerminated
	}

	bound := time.Duration(0)
	if deadline, ok := ctx.Deadline(); ok {
		bound = time.Until(deadline)
	} else if b.callTimeout > 0 {
		bound = b.callTimeout
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, b.ctxError(ctx, method, bound)
	}
	defer func() { <-b.sem }()

	// Terminated while waiting for the previous call
	if b.terminated.Load() {
		return nil, ErrTerminated
	}

	cmd := dispatcher.Command{
		ID:     b.nextID.Add(1),
		Method: method,
		Args:   args,
	}
	reply := make(chan dispatcher.Reply, 1)

	if err := b.disp.Deliver(ctx, cmd, reply); err != nil {
		if errors.Is(err, dispatcher.ErrStopped) {
			return nil, ErrTerminated
		}
		return nil, b.ctxError(ctx, method, bound)
	}

	select {
	case r, ok := <-reply:
		return b.result(cmd, r, ok)

	case <-ctx.Done():
		// The command keeps running; its reply lands in the buffered
		// channel and is dropped with it.
		b.logger.Debug("call_abandoned", "id", cmd.ID, "method", method, "error", ctx.Err())
		return nil, b.ctxError(ctx, method, bound)

	case <-b.disp.Done():
		return b.lastChance(cmd, reply)

	case <-b.stopped:
		return b.lastChance(cmd, reply)
	}
}

// lastChance takes a reply that is already there, without waiting.
func (b *Bridge) lastChance(cmd dispatcher.Command, reply <-chan dispatcher.Reply) (any, error) {
	select {
	case r, ok := <-reply:
		return b.result(cmd, r, ok)
	default:
		return nil, ErrNoResponse
	}
}

func (b *Bridge) result(cmd dispatcher.Command, r dispatcher.Reply, ok bool) (any, error) {
	if !ok {
		return nil, ErrNoResponse
	}
	if r.Err != nil {
		return nil, &CallError{ID: cmd.ID, Method: cmd.Method, Message: r.Err.Error(), Err: r.Err}
	}
	return r.Result, nil
}

func (b *Bridge) ctxError(ctx context.Context, method string, bound time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Method: method, Timeout: bound}
	}
	return ctx.Err()
}

// Quit asks the execution context to shut down gracefully within the quit
// timeout. If that fails for any reason other than the quit command itself
// reporting an error, the bridge is terminated instead. Quit never fails
// and is safe to call more than once.
func (b *Bridge) Quit() {
	b.quitOnce.Do(func() {
		if b.terminated.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.quitTimeout)
		defer cancel()

		_, err := b.Call(ctx, QuitMethod)

		var callErr *CallError
		if err == nil || errors.As(err, &callErr) {
			if err != nil {
				b.logger.Debug("quit_reported_error", "error", err)
			}
			b.close()
			return
		}

		b.logger.Warn("quit_escalating", "error", err, "timeout", b.quitTimeout.String())
		b.terminate()
	})
}

// close shuts the execution context down gracefully.
func (b *Bridge) close() {
	if b.terminated.Swap(true) {
		return
	}
	close(b.stopped)
	if err := b.disp.Close(); err != nil {
		b.logger.Debug("bridge_close_error", "error", err)
	}
	b.registry.remove(b)
	b.logger.Debug("bridge_closed")
	if b.callbacks.OnQuit != nil {
		b.callbacks.OnQuit(b.id, true)
	}
}

// Terminate forcibly ends the execution context without waiting for it.
// A caller blocked in Call returns ErrNoResponse unless its reply has
// already arrived.
func (b *Bridge) Terminate() {
	b.terminate()
}

func (b *Bridge) terminate() {
	if b.terminated.Swap(true) {
		return
	}
	close(b.stopped)
	b.disp.Terminate()
	b.registry.remove(b)
	b.logger.Info("bridge_terminated")
	if b.callbacks.OnQuit != nil {
		b.callbacks.OnQuit(b.id, false)
	}
}

// ID returns the bridge's unique id.
func (b *Bridge) ID() string {
	return b.id
}

// Terminated reports whether the bridge has quit or been terminated.
func (b *Bridge) Terminated() bool {
	return b.terminated.Load()
}

// Done is closed once the execution goroutine has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.disp.Done()
}
