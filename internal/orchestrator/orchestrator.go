// Package orchestrator runs one CLI session: preflight, metrics, the
// optional dashboard, and the browser script, then the exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-vibium-sync/internal/bridge"
	"github.com/randomizedcoder/go-vibium-sync/internal/config"
	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
	"github.com/randomizedcoder/go-vibium-sync/internal/metrics"
	"github.com/randomizedcoder/go-vibium-sync/internal/preflight"
	"github.com/randomizedcoder/go-vibium-sync/internal/stats"
	"github.com/randomizedcoder/go-vibium-sync/internal/timeseries"
	"github.com/randomizedcoder/go-vibium-sync/internal/tui"
	"github.com/randomizedcoder/go-vibium-sync/pkg/browser"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// ErrPreflight is returned when preflight checks fail.
var ErrPreflight = errors.New("preflight checks failed (use --skip-preflight to override)")

// errDashboardQuit ends the run when the user quits the dashboard.
var errDashboardQuit = errors.New("dashboard closed")

// SignalError reports that the run was interrupted by a signal.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return "interrupted by " + e.Signal.String()
}

// ExitCode returns the conventional 128+signal exit code.
func (e *SignalError) ExitCode() int {
	if e.Signal == syscall.SIGTERM {
		return bridge.ExitCodeTerminate
	}
	return bridge.ExitCodeInterrupt
}

// Orchestrator coordinates all components for one CLI run.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string
	out     io.Writer

	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	calls         *stats.CallStats
	rates         *timeseries.RateTracker

	program *tea.Program

	mu     sync.Mutex
	status tui.StatusMsg

	// signals is signal.Notify outside tests
	signals func(c chan<- os.Signal)

	startTime time.Time
}

// New creates an Orchestrator. Results and the exit summary go to out.
func New(cfg *config.Config, logger *slog.Logger, version string, out io.Writer) *Orchestrator {
	logger = logging.OrDiscard(logger)
	if out == nil {
		out = io.Discard
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mode := "launch"
	if cfg.Endpoint != "" {
		mode = "connect"
	}

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		version:  version,
		out:      out,
		registry: registry,
		metrics:  metrics.NewCollectorWithRegistry(metrics.CollectorConfig{Version: version, Mode: mode}, registry),
		calls:    stats.NewCallStats(stats.DefaultRecentCalls),
		rates:    timeseries.NewRateTracker(),
		signals: func(c chan<- os.Signal) {
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		},
	}
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, logger)
	}
	return o
}

// Run executes the session. It blocks until the script finishes, fails,
// or a signal arrives.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			ClickerPath: o.config.ClickerPath,
			Port:        o.config.Port,
			Endpoint:    o.config.Endpoint,
		})
		if !o.config.TUIEnabled {
			preflight.PrintResults(o.out, result)
		}
		if !result.Passed {
			return ErrPreflight
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	runErr := o.run(ctx)

	o.shutdown()

	if !o.config.TUIEnabled || runErr != nil {
		fmt.Fprint(o.out, o.exitSummary())
	}

	return runErr
}

func (o *Orchestrator) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return o.runScript(gctx)
	})

	g.Go(func() error {
		return o.waitForSignal(gctx)
	})

	if o.config.TUIEnabled {
		o.program = tea.NewProgram(
			tui.New(tui.Config{
				URL:         o.config.URL,
				MetricsAddr: o.config.MetricsAddr,
				CallSource:  o.calls,
				RateSource:  o.rates,
			}),
			tea.WithAltScreen(),
		)
		g.Go(func() error {
			return o.runDashboard(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, errDashboardQuit) {
		o.logger.Info("dashboard_quit")
		return nil
	}
	return err
}

func (o *Orchestrator) waitForSignal(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	o.signals(sigCh)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
		return &SignalError{Signal: sig}
	case <-ctx.Done():
		return nil
	}
}

func (o *Orchestrator) runDashboard(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		o.program.Quit()
	}()

	if _, err := o.program.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	if ctx.Err() == nil {
		return errDashboardQuit
	}
	return nil
}

// shutdown stops the metrics server and writes the metrics dump.
func (o *Orchestrator) shutdown() {
	if o.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := o.metricsServer.Shutdown(ctx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}

	if o.config.MetricsDump != "" {
		if err := metrics.DumpFile(o.config.MetricsDump, o.registry); err != nil {
			o.logger.Warn("metrics_dump_failed", "path", o.config.MetricsDump, "error", err)
		} else {
			o.logger.Info("metrics_dumped", "path", o.config.MetricsDump)
		}
	}
}

// =============================================================================
// Observer wiring
// =============================================================================

func (o *Orchestrator) observer() browser.Observer {
	return browser.Observer{
		OnCall: func(method string, elapsed time.Duration, err error) {
			o.metrics.RecordCall(method, elapsed, err)
			o.calls.Record(method, elapsed, err)
			o.rates.AddEvents(1)
			if o.config.Verbose {
				o.logger.Debug("call_completed", "method", method, "elapsed", elapsed.String(), "error", err)
			}
		},
		OnStart: func(pid int) {
			o.metrics.ProcessStarted()
			o.updateStatus(func(s *tui.StatusMsg) { s.PID = pid })
		},
		OnReady: func(endpoint string, startup time.Duration) {
			o.metrics.ProcessReady(startup)
			o.logger.Info("clicker_ready", "endpoint", endpoint, "startup", startup.String())
			o.updateStatus(func(s *tui.StatusMsg) { s.Endpoint = endpoint })
		},
		OnExit: func(exitCode int, uptime time.Duration) {
			o.metrics.RecordExit(exitCode, uptime)
		},
		OnForceKill: func(pid int) {
			o.metrics.ForceKilled()
		},
		OnQuit: func(graceful bool) {
			o.metrics.SessionEnded(graceful)
			if o.metricsServer != nil {
				o.metricsServer.SetReady(false)
			}
		},
		OnStateChange: func(_, newState string) {
			o.updateStatus(func(s *tui.StatusMsg) { s.State = newState })
		},
	}
}

func (o *Orchestrator) updateStatus(fn func(*tui.StatusMsg)) {
	o.mu.Lock()
	fn(&o.status)
	status := o.status
	o.mu.Unlock()

	tui.SendStatus(o.program, status)
}

// Status returns the latest session status.
func (o *Orchestrator) Status() tui.StatusMsg {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// =============================================================================
// Exit summary
// =============================================================================

func (o *Orchestrator) exitSummary() string {
	summary := o.metrics.GenerateSummary()
	status := o.Status()

	return stats.FormatExitSummary(o.calls.Snapshot(), stats.SummaryConfig{
		Duration:    time.Since(o.startTime),
		Endpoint:    status.Endpoint,
		PID:         status.PID,
		MetricsAddr: o.metricsAddr(),
		Outcomes:    summary.Calls,
		ExitCodes:   summary.ExitCodes,
		ForceKills:  summary.ForceKills,
		Escalated:   summary.Escalated,
	})
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the Prometheus registry the run reports to.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// Rates returns the rolling call rate tracker.
func (o *Orchestrator) Rates() *timeseries.RateTracker {
	return o.rates
}

// Calls returns the call statistics for external access.
func (o *Orchestrator) Calls() *stats.CallStats {
	return o.calls
}
