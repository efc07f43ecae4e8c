package bridge

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
)

// Exit codes used by HandleSignals, following the 128+signal convention.
const (
	ExitCodeInterrupt = 130
	ExitCodeTerminate = 143
)

// Registry tracks live bridges so they can all be shut down at exit.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	bridges map[string]*Bridge

	// exit is os.Exit outside tests
	exit func(code int)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logging.OrDiscard(logger),
		bridges: make(map[string]*Bridge),
		exit:    os.Exit,
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry, creating it on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(slog.Default())
	})
	return defaultRegistry
}

func (r *Registry) add(b *Bridge) {
	r.mu.Lock()
	r.bridges[b.ID()] = b
	n := len(r.bridges)
	r.mu.Unlock()
	r.logger.Debug("bridge_registered", "bridge", b.ID(), "live", n)
}

func (r *Registry) remove(b *Bridge) {
	r.mu.Lock()
	delete(r.bridges, b.ID())
	r.mu.Unlock()
}

// Len returns the number of live bridges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

// Bridges returns the live bridges ordered by id, which is creation order.
func (r *Registry) Bridges() []*Bridge {
	r.mu.Lock()
	out := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// QuitAll gives every live bridge one Quit, concurrently, and waits for
// all of them. Bridges that do not answer are terminated by their Quit.
func (r *Registry) QuitAll() {
	bridges := r.Bridges()
	if len(bridges) == 0 {
		return
	}
	r.logger.Info("quitting_bridges", "count", len(bridges))

	var wg sync.WaitGroup
	for _, b := range bridges {
		wg.Add(1)
		go func(b *Bridge) {
			defer wg.Done()
			b.Quit()
		}(b)
	}
	wg.Wait()
}

// HandleSignals quits all bridges and exits on SIGINT (130) or SIGTERM
// (143). It returns when ctx is cancelled without a signal.
func (r *Registry) HandleSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return
	case sig := <-sigCh:
		r.onSignal(sig)
	}
}

func (r *Registry) onSignal(sig os.Signal) {
	r.logger.Info("received_signal", "signal", sig.String())
	r.QuitAll()
	r.exit(exitCode(sig))
}

func exitCode(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return ExitCodeTerminate
	}
	return ExitCodeInterrupt
}
