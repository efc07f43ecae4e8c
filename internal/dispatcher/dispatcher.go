// Package dispatcher runs commands one at a time on a dedicated goroutine.
//
// Callers hand over a Command together with a reply channel. The dispatcher
// executes the command through a Handler and writes exactly one Reply to
// that channel, then closes it. A reply channel that is closed without a
// value means the command was never executed.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
)

// DefaultInboxSize is the number of deliveries that may queue behind the
// running command.
const DefaultInboxSize = 16

var (
	// ErrStopped is returned by Deliver after Close or Terminate.
	ErrStopped = errors.New("dispatcher stopped")
)

// Command is one unit of work.
type Command struct {
	ID     uint64
	Method string
	Args   []any
}

// Reply is the outcome of a Command. Err non-nil means failure and Result
// is ignored.
type Reply struct {
	Result any
	Err    error
}

// Handler executes commands. Invoke is only ever called from the
// dispatcher goroutine, so implementations need no locking of their own.
type Handler interface {
	Invoke(ctx context.Context, method string, args []any) (any, error)
}

// Killer is implemented by handlers that hold external resources which can
// be released forcibly, such as a child process.
type Killer interface {
	Kill()
}

// Observer receives execution events. Any field may be nil.
type Observer struct {
	OnExecute func(cmd Command, elapsed time.Duration, err error)
	OnPanic   func(cmd Command, recovered any)
}

// Config holds configuration for a Dispatcher.
type Config struct {
	Handler   Handler
	Logger    *slog.Logger
	Observer  Observer
	InboxSize int
}

type delivery struct {
	cmd   Command
	reply chan<- Reply
}

// Dispatcher owns the execution goroutine.
type Dispatcher struct {
	handler  Handler
	logger   *slog.Logger
	observer Observer

	inbox chan delivery

	ctx    context.Context
	cancel context.CancelFunc

	// stop is closed to ask the loop to finish after the current command
	stop     chan struct{}
	stopOnce sync.Once

	// done is closed when the loop has exited
	done chan struct{}
}

// New starts a dispatcher goroutine.
func New(cfg Config) *Dispatcher {
	size := cfg.InboxSize
	if size <= 0 {
		size = DefaultInboxSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler:  cfg.Handler,
		logger:   logging.OrDiscard(cfg.Logger),
		observer: cfg.Observer,
		inbox:    make(chan delivery, size),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go d.run()
	return d
}

// Deliver queues cmd. reply must have capacity for one value; the
// dispatcher never blocks on it. Deliver blocks only while the inbox is
// full, until ctx ends or the dispatcher stops.
func (d *Dispatcher) Deliver(ctx context.Context, cmd Command, reply chan<- Reply) error {
	select {
	case <-d.stop:
		return ErrStopped
	default:
	}

	select {
	case d.inbox <- delivery{cmd: cmd, reply: reply}:
		return nil
	case <-d.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer d.drain()

	for {
		// Prefer stopping over picking up more work.
		select {
		case <-d.stop:
			return
		default:
		}

		select {
		case <-d.stop:
			return
		case dl := <-d.inbox:
			d.execute(dl)
		}
	}
}

// execute runs one command and always replies.
func (d *Dispatcher) execute(dl delivery) {
	start := time.Now()
	result, err := d.invoke(dl.cmd)
	elapsed := time.Since(start)

	if d.observer.OnExecute != nil {
		d.observer.OnExecute(dl.cmd, elapsed, err)
	}
	if err != nil {
		d.logger.Debug("command_failed",
			"id", dl.cmd.ID,
			"method", dl.cmd.Method,
			"elapsed", elapsed.String(),
			"error", err,
		)
	}

	dl.reply <- Reply{Result: result, Err: err}
	close(dl.reply)
}

func (d *Dispatcher) invoke(cmd Command) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command_panic",
				"id", cmd.ID,
				"method", cmd.Method,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			if d.observer.OnPanic != nil {
				d.observer.OnPanic(cmd, r)
			}
			result, err = nil, fmt.Errorf("panic in %s: %v", cmd.Method, r)
		}
	}()
	return d.handler.Invoke(d.ctx, cmd.Method, cmd.Args)
}

// drain closes the reply channel of every delivery still queued, without a
// reply, so waiting callers see that their command never ran.
func (d *Dispatcher) drain() {
	for {
		select {
		case dl := <-d.inbox:
			close(dl.reply)
		default:
			return
		}
	}
}

// Close asks the dispatcher to stop after the current command and waits
// for it, then releases the handler if it is an io.Closer.
func (d *Dispatcher) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
	d.cancel()

	if c, ok := d.handler.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Terminate stops the dispatcher forcibly: the handler context is
// cancelled, aborting any in-flight work, and the handler is killed if it
// implements Killer. It does not wait for the in-flight command.
func (d *Dispatcher) Terminate() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.cancel()

	if k, ok := d.handler.(Killer); ok {
		k.Kill()
	}
	d.logger.Debug("dispatcher_terminated")
}

// Done is closed once the execution goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stopped reports whether Close or Terminate has been called.
func (d *Dispatcher) Stopped() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}
