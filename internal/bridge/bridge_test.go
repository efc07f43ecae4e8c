package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler is a scriptable dispatcher.Handler.
type testHandler struct {
	mu      sync.Mutex
	invoked []string

	// quitBehaviour is "ok", "error" or "hang". Set before the first call.
	quitBehaviour string

	// release unblocks "slow", "wedge" and hung quit commands
	release     chan struct{}
	releaseOnce sync.Once

	closed atomic.Int32
	killed atomic.Int32
}

func newTestHandler() *testHandler {
	return &testHandler{quitBehaviour: "ok", release: make(chan struct{})}
}

func (h *testHandler) Invoke(ctx context.Context, method string, args []any) (any, error) {
	h.mu.Lock()
	h.invoked = append(h.invoked, method)
	h.mu.Unlock()

	switch method {
	case "echo":
		return args[0], nil
	case "fail":
		return nil, errors.New("element not found: #nope")
	case "slow":
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return "late", nil
	case "wedge":
		// Ignores cancellation like a stuck handler would.
		<-h.release
		return "late", nil
	case "quit":
		switch h.quitBehaviour {
		case "error":
			return nil, errors.New("browser not launched")
		case "hang":
			<-h.release
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown method: %s", method)
}

func (h *testHandler) Close() error { h.closed.Add(1); return nil }
func (h *testHandler) Kill()        { h.killed.Add(1) }

func (h *testHandler) unblock() {
	h.releaseOnce.Do(func() { close(h.release) })
}

func (h *testHandler) methods() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.invoked...)
}

func (h *testHandler) saw(method string) bool {
	for _, m := range h.methods() {
		if m == method {
			return true
		}
	}
	return false
}

func newTestBridge(t *testing.T, h *testHandler, cfg Config) (*Bridge, *Registry) {
	t.Helper()
	reg := NewRegistry(nil)
	cfg.Handler = h
	cfg.Registry = reg
	b := New(cfg)
	t.Cleanup(func() {
		b.Terminate()
		h.unblock()
	})
	return b, reg
}

func TestCall_ReturnsResult(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})

	got, err := b.Call(context.Background(), "echo", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestCall_NoCrossTalk(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})

	for i := 0; i < 200; i++ {
		got, err := b.Call(context.Background(), "echo", i)
		require.NoError(t, err)
		require.Equal(t, i, got, "call %d received another call's reply", i)
	}
}

func TestCall_ConcurrentCallersSerialised(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := b.Call(context.Background(), "echo", n)
			assert.NoError(t, err)
			assert.Equal(t, n, got)
		}(i)
	}
	wg.Wait()
}

func TestCall_CallError(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})

	_, err := b.Call(context.Background(), "fail")
	require.Error(t, err)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "fail", callErr.Method)
	assert.Equal(t, "element not found: #nope", err.Error())
	assert.NotZero(t, callErr.ID)

	// The bridge is still usable after a failed call.
	got, err := b.Call(context.Background(), "echo", "still here")
	require.NoError(t, err)
	assert.Equal(t, "still here", got)
}

func TestCall_TimeoutDiscardsLateReply(t *testing.T) {
	h := newTestHandler()
	b, _ := newTestBridge(t, h, Config{CallTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := b.Call(context.Background(), "slow")
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "slow", te.Method)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)

	// Let the abandoned command finish; its "late" reply must not leak
	// into the next call.
	h.unblock()

	got, err := b.Call(context.Background(), "echo", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}

func TestCall_ContextDeadline(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := b.Call(ctx, "slow")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCall_ContextCancel(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := b.Call(ctx, "slow")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_NoResponseOnTerminate(t *testing.T) {
	h := newTestHandler()
	b, _ := newTestBridge(t, h, Config{})

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "wedge")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return h.saw("wedge") }, time.Second, 5*time.Millisecond)

	b.Terminate()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNoResponse)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after Terminate")
	}
	assert.Equal(t, int32(1), h.killed.Load())
}

func TestCall_AfterTerminate(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})
	b.Terminate()

	_, err := b.Call(context.Background(), "echo", "x")
	assert.ErrorIs(t, err, ErrTerminated)
	assert.True(t, b.Terminated())
}

func TestCall_Callback(t *testing.T) {
	var mu sync.Mutex
	outcomes := map[string]error{}
	b, _ := newTestBridge(t, newTestHandler(), Config{
		Callbacks: Callbacks{OnCall: func(method string, _ time.Duration, err error) {
			mu.Lock()
			outcomes[method] = err
			mu.Unlock()
		}},
	})

	_, _ = b.Call(context.Background(), "echo", 1)
	_, _ = b.Call(context.Background(), "fail")

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, outcomes["echo"])
	assert.Error(t, outcomes["fail"])
}

func TestQuit_Graceful(t *testing.T) {
	h := newTestHandler()
	var graceful atomic.Int32
	b, reg := newTestBridge(t, h, Config{
		Callbacks: Callbacks{OnQuit: func(_ string, g bool) {
			if g {
				graceful.Add(1)
			}
		}},
	})
	require.Equal(t, 1, reg.Len())

	b.Quit()

	assert.True(t, b.Terminated())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, int32(1), h.closed.Load(), "handler not closed")
	assert.Equal(t, int32(0), h.killed.Load(), "handler killed on graceful quit")
	assert.Equal(t, int32(1), graceful.Load())
	assert.Equal(t, []string{"quit"}, h.methods())

	// Idempotent
	b.Quit()
	assert.Equal(t, []string{"quit"}, h.methods())
}

func TestQuit_ErrorReplyIsStillGraceful(t *testing.T) {
	h := newTestHandler()
	h.quitBehaviour = "error"
	b, reg := newTestBridge(t, h, Config{})

	b.Quit()

	assert.True(t, b.Terminated())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, int32(0), h.killed.Load())
}

func TestQuit_EscalatesOnTimeout(t *testing.T) {
	h := newTestHandler()
	h.quitBehaviour = "hang"
	var forced atomic.Int32
	b, reg := newTestBridge(t, h, Config{
		QuitTimeout: 100 * time.Millisecond,
		Callbacks: Callbacks{OnQuit: func(_ string, g bool) {
			if !g {
				forced.Add(1)
			}
		}},
	})

	start := time.Now()
	b.Quit()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.True(t, b.Terminated())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, int32(1), h.killed.Load(), "handler not killed on escalation")
	assert.Equal(t, int32(1), forced.Load())
}

func TestQuit_EscalatesWhenCallInFlight(t *testing.T) {
	h := newTestHandler()
	b, _ := newTestBridge(t, h, Config{QuitTimeout: 100 * time.Millisecond})

	go func() { _, _ = b.Call(context.Background(), "wedge") }()
	require.Eventually(t, func() bool { return h.saw("wedge") }, time.Second, 5*time.Millisecond)

	b.Quit()

	assert.True(t, b.Terminated())
	assert.Equal(t, int32(1), h.killed.Load())
}

func TestQuit_DefaultTimeout(t *testing.T) {
	b, _ := newTestBridge(t, newTestHandler(), Config{})
	assert.Equal(t, 5*time.Second, b.quitTimeout)
	assert.Len(t, b.ID(), 26, "ULID")
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_QuitAll(t *testing.T) {
	reg := NewRegistry(nil)

	handlers := []*testHandler{newTestHandler(), newTestHandler(), newTestHandler()}
	handlers[1].quitBehaviour = "hang"
	for _, h := range handlers {
		b := New(Config{Handler: h, Registry: reg, QuitTimeout: 100 * time.Millisecond})
		t.Cleanup(b.Terminate)
	}
	t.Cleanup(handlers[1].unblock)
	require.Equal(t, 3, reg.Len())

	start := time.Now()
	reg.QuitAll()

	// Concurrent: one hung bridge does not delay the others beyond its own bound.
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, int32(0), handlers[0].killed.Load())
	assert.Equal(t, int32(1), handlers[1].killed.Load())
	assert.Equal(t, int32(0), handlers[2].killed.Load())

	// Nothing left to do.
	reg.QuitAll()
}

func TestRegistry_BridgesInCreationOrder(t *testing.T) {
	reg := NewRegistry(nil)
	var ids []string
	for i := 0; i < 5; i++ {
		b := New(Config{Handler: newTestHandler(), Registry: reg})
		t.Cleanup(b.Terminate)
		ids = append(ids, b.ID())
	}

	var got []string
	for _, b := range reg.Bridges() {
		got = append(got, b.ID())
	}
	assert.Equal(t, ids, got)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())

	b := New(Config{Handler: newTestHandler()})
	t.Cleanup(b.Terminate)

	found := false
	for _, x := range DefaultRegistry().Bridges() {
		if x == b {
			found = true
		}
	}
	assert.True(t, found, "bridge without explicit registry not in DefaultRegistry")
}

func TestRegistry_OnSignal(t *testing.T) {
	tests := []struct {
		sig  syscall.Signal
		code int
	}{
		{syscall.SIGINT, 130},
		{syscall.SIGTERM, 143},
	}

	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			reg := NewRegistry(nil)
			var code atomic.Int32
			reg.exit = func(c int) { code.Store(int32(c)) }

			b := New(Config{Handler: newTestHandler(), Registry: reg})
			reg.onSignal(tt.sig)

			assert.Equal(t, int32(tt.code), code.Load())
			assert.True(t, b.Terminated(), "bridge not quit before exit")
		})
	}
}

func TestRegistry_HandleSignalsReturnsOnCancel(t *testing.T) {
	reg := NewRegistry(nil)
	reg.exit = func(int) { t.Error("exit called without a signal") }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.HandleSignals(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSignals did not return on cancel")
	}
}
