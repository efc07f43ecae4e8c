// Package bidi is a minimal WebDriver BiDi client over a websocket. It
// correlates responses with commands by id and delivers events to an
// optional handler.
package bidi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
)

const (
	// DefaultTimeout bounds a command when the caller's context has no deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultReadLimit allows full-page screenshots in a single frame.
	DefaultReadLimit = 64 << 20

	pingTimeout = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	Logger *slog.Logger

	// Timeout is the per-command bound used when ctx has no deadline.
	Timeout time.Duration

	// Backoff paces dial retries. Zero value uses DefaultBackoffConfig.
	Backoff BackoffConfig

	// OnEvent receives server events on the read goroutine. It must not block.
	OnEvent func(Event)

	// PingInterval enables keepalive pings when > 0.
	PingInterval time.Duration

	// ReadLimit is the largest accepted frame. Defaults to DefaultReadLimit.
	ReadLimit int64
}

type result struct {
	raw json.RawMessage
	err error
}

// Client is a connected BiDi session. Send is safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	url     string
	logger  *slog.Logger
	timeout time.Duration
	onEvent func(Event)

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan result
	closed  bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url, retrying refused connections with backoff until
// ctx ends.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	logger := logging.OrDiscard(opts.Logger)

	bcfg := opts.Backoff
	if bcfg.Initial <= 0 {
		bcfg = DefaultBackoffConfig()
	}
	backoff := NewBackoff(time.Now().UnixNano(), bcfg)

	var conn *websocket.Conn
	for {
		var err error
		conn, _, err = websocket.Dial(ctx, url, nil)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}

		delay := backoff.Next()
		logger.Debug("bidi_dial_retry",
			"url", url,
			"attempt", backoff.Attempts(),
			"delay", delay.String(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial %s: %w", url, err)
		case <-timer.C:
		}
	}

	return newClient(conn, url, logger, opts), nil
}

func newClient(conn *websocket.Conn, url string, logger *slog.Logger, opts Options) *Client {
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		url:     url,
		logger:  logger,
		timeout: timeout,
		onEvent: opts.OnEvent,
		pending: make(map[uint64]chan result),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.readLoop()
	if opts.PingInterval > 0 {
		go c.pingLoop(opts.PingInterval)
	}

	logger.Debug("bidi_connected", "url", url)
	return c
}

// Send issues a command and waits for its response. The bound is ctx's
// deadline, or the client timeout if ctx has none.
func (c *Client) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(command{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	ch := make(chan result, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.forget(id)
		if ctx.Err() != nil {
			return nil, c.ctxError(ctx, method)
		}
		return nil, fmt.Errorf("send %s: %w: %v", method, ErrClosed, err)
	}

	select {
	case res := <-ch:
		return res.raw, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, c.ctxError(ctx, method)
	}
}

// SendInto is Send followed by decoding the result into out.
func (c *Client) SendInto(ctx context.Context, method string, params, out any) error {
	raw, err := c.Send(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) ctxError(ctx context.Context, method string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, method)
	}
	return ctx.Err()
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("bidi_read_ended", "url", c.url, "error", err)
			}
			c.shutdown(ErrClosed)
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("bidi_bad_message", "error", err, "size", len(data))
		return
	}

	switch {
	case msg.ID != nil:
		c.handleResponse(*msg.ID, msg)

	case msg.Method != "":
		if c.onEvent != nil {
			c.onEvent(Event{Method: msg.Method, Params: msg.Params})
		}

	case len(msg.Error) > 0:
		var w wireError
		_ = json.Unmarshal(msg.Error, &w)
		bidiErr := newError(w)
		c.logger.Warn("bidi_connection_error", "code", bidiErr.Code, "message", bidiErr.Message)
		c.failPending(bidiErr)

	default:
		c.logger.Debug("bidi_unrecognised_message", "size", len(data))
	}
}

func (c *Client) handleResponse(id uint64, msg message) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("bidi_unknown_response", "id", id)
		return
	}

	if msg.Type == "error" {
		var w wireError
		_ = json.Unmarshal(msg.Error, &w)
		ch <- result{err: newError(w)}
		return
	}

	raw := msg.Result
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	ch <- result{raw: raw}
}

// failPending fails every in-flight command with err.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.failPending(err)
}

func (c *Client) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// Close fails pending commands with ErrClosed and closes the connection.
// Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		dropped := false
		select {
		case <-c.done:
			dropped = true
		default:
		}

		c.shutdown(ErrClosed)
		if closeErr := c.conn.Close(websocket.StatusNormalClosure, ""); closeErr != nil && !dropped {
			err = closeErr
		}
		c.cancel()
		<-c.done
		c.logger.Debug("bidi_closed", "url", c.url)
	})
	return err
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connected reports whether commands can still be sent.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// URL returns the endpoint this client is connected to.
func (c *Client) URL() string {
	return c.url
}
