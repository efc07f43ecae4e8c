// Package metrics provides Prometheus metrics for go-vibium-sync.
//
// Metrics cover three areas:
//   - Calls: every blocking call by method and outcome, with latency
//   - Process: clicker starts, exits, startup time and forced kills
//   - Sessions: live sessions and how each one ended
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-vibium-sync/internal/bridge"
)

const namespace = "vibium_sync"

// Call outcomes used as the "outcome" label.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeTimeout    = "timeout"
	OutcomeNoResponse = "no_response"
	OutcomeTerminated = "terminated"
	OutcomeCancelled  = "cancelled"
)

// Outcome classifies a call error for the "outcome" label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, bridge.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, bridge.ErrNoResponse):
		return OutcomeNoResponse
	case errors.Is(err, bridge.ErrTerminated):
		return OutcomeTerminated
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// ExitCategory groups clicker exit codes for the "category" label.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128 || exitCode < 0:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Collector
// =============================================================================

// Collector owns the Prometheus collectors and a few totals for the exit
// summary.
type Collector struct {
	info *prometheus.GaugeVec

	// Calls
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	// Process
	processStarts     prometheus.Counter
	processExits      *prometheus.CounterVec
	processForceKills prometheus.Counter
	processRunning    prometheus.Gauge
	startupSeconds    prometheus.Histogram
	uptimeSeconds     prometheus.Histogram

	// Sessions
	liveSessions  prometheus.Gauge
	sessionsEnded *prometheus.CounterVec

	mu         sync.Mutex
	startTime  time.Time
	calls      map[string]int64 // by outcome
	starts     int64
	forceKills int64
	exitCodes  map[int]int64
	escalated  int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Mode    string // "launch" or "connect"
}

// NewCollector creates a collector registered with the default registerer.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the client (value always 1)",
		}, []string{"version", "mode"}),

		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Blocking calls by method and outcome",
		}, []string{"method", "outcome"}),

		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Blocking call latency by method",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
			},
		}, []string{"method"}),

		processStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicker_starts_total",
			Help:      "Clicker processes started",
		}),

		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicker_exits_total",
			Help:      "Clicker process exits by category (success, error, signal)",
		}, []string{"category"}),

		processForceKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicker_force_kills_total",
			Help:      "Clicker processes killed after ignoring SIGTERM",
		}),

		processRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clicker_running",
			Help:      "Clicker processes currently running",
		}),

		startupSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clicker_startup_seconds",
			Help:      "Time from spawn until clicker reported its endpoint",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		uptimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clicker_uptime_seconds",
			Help:      "Clicker process lifetime",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 3600},
		}),

		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Browser sessions that have not quit",
		}),

		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended, by how (graceful, terminated)",
		}, []string{"how"}),

		startTime: time.Now(),
		calls:     make(map[string]int64),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.callsTotal,
		c.callDuration,
		c.processStarts,
		c.processExits,
		c.processForceKills,
		c.processRunning,
		c.startupSeconds,
		c.uptimeSeconds,
		c.liveSessions,
		c.sessionsEnded,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Mode).Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordCall records one blocking call.
func (c *Collector) RecordCall(method string, elapsed time.Duration, err error) {
	outcome := Outcome(err)
	c.callsTotal.WithLabelValues(method, outcome).Inc()
	c.callDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	c.mu.Lock()
	c.calls[outcome]++
	c.mu.Unlock()
}

// ProcessStarted records a clicker spawn.
func (c *Collector) ProcessStarted() {
	c.processStarts.Inc()
	c.processRunning.Inc()

	c.mu.Lock()
	c.starts++
	c.mu.Unlock()
}

// ProcessReady records how long clicker took to report its endpoint.
func (c *Collector) ProcessReady(startup time.Duration) {
	c.startupSeconds.Observe(startup.Seconds())
}

// RecordExit records a clicker exit.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.processExits.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.processRunning.Dec()
	c.uptimeSeconds.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.mu.Unlock()
}

// ForceKilled records a SIGKILL escalation.
func (c *Collector) ForceKilled() {
	c.processForceKills.Inc()

	c.mu.Lock()
	c.forceKills++
	c.mu.Unlock()
}

// SessionOpened records a launched session.
func (c *Collector) SessionOpened() {
	c.liveSessions.Inc()
}

// SessionEnded records how a session ended.
func (c *Collector) SessionEnded(graceful bool) {
	c.liveSessions.Dec()
	how := "graceful"
	if !graceful {
		how = "terminated"
		c.mu.Lock()
		c.escalated++
		c.mu.Unlock()
	}
	c.sessionsEnded.WithLabelValues(how).Inc()
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the totals reported at exit.
type Summary struct {
	Duration   time.Duration
	Calls      map[string]int64 // by outcome
	Starts     int64
	ForceKills int64
	Escalated  int64
	ExitCodes  map[int]int64
}

// TotalCalls returns the number of calls across all outcomes.
func (s *Summary) TotalCalls() int64 {
	var n int64
	for _, v := range s.Calls {
		n += v
	}
	return n
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:   time.Since(c.startTime),
		Calls:      make(map[string]int64, len(c.calls)),
		Starts:     c.starts,
		ForceKills: c.forceKills,
		Escalated:  c.escalated,
		ExitCodes:  make(map[int]int64, len(c.exitCodes)),
	}
	for k, v := range c.calls {
		s.Calls[k] = v
	}
	for k, v := range c.exitCodes {
		s.ExitCodes[k] = v
	}
	return s
}
