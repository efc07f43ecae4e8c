package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
	"github.com/randomizedcoder/go-vibium-sync/internal/parser"
	"github.com/randomizedcoder/go-vibium-sync/internal/process"
)

const (
	// DefaultStartupTimeout bounds the wait for the listen line.
	DefaultStartupTimeout = 10 * time.Second

	// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	DefaultGracePeriod = 3 * time.Second

	// outputDrainTimeout bounds how long the exit path waits for buffered
	// output after the process is gone. Descendants that inherited the pipe
	// can keep it open indefinitely.
	outputDrainTimeout = time.Second

	defaultOutputBuffer = 1000
)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the lifecycle state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when the process has been spawned.
	OnStart func(pid int)

	// OnReady is called when the endpoint has been discovered.
	OnReady func(endpoint Endpoint, startup time.Duration)

	// OnExit is called once the process exit has been observed.
	OnExit func(exitCode int, uptime time.Duration)

	// OnForceKill is called when SIGKILL is sent.
	OnForceKill func(pid int)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Runner    process.Runner
	Logger    *slog.Logger
	Callbacks Callbacks

	// StartupTimeout defaults to DefaultStartupTimeout.
	StartupTimeout time.Duration

	// GracePeriod defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	// Verbose logs every output line instead of only warnings.
	Verbose bool

	// OutputBufferSize is the line buffer between the output reader and
	// the log handler.
	OutputBufferSize int
}

// Supervisor manages the lifecycle of one managed process.
type Supervisor struct {
	runner         process.Runner
	logger         *slog.Logger
	callbacks      Callbacks
	startupTimeout time.Duration
	gracePeriod    time.Duration
	bufferSize     int

	output   *logging.OutputHandler
	pipeline *parser.Pipeline
	reader   *parser.PipeReader

	state   State
	stateMu sync.RWMutex

	// Set once by Start, read-only afterwards
	procMu    sync.RWMutex
	cmd       *exec.Cmd
	pid       int
	startTime time.Time

	endpointMu sync.RWMutex
	endpoint   Endpoint

	// done is closed after the exit has been observed and recorded, or
	// once it is certain no process will be spawned
	done       chan struct{}
	doneOnce   sync.Once
	exitCode   int
	forceKills int
	exitMu     sync.Mutex

	stopOnce sync.Once
	stopErr  error
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	startupTimeout := cfg.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	bufferSize := cfg.OutputBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultOutputBuffer
	}
	logger := logging.OrDiscard(cfg.Logger)

	return &Supervisor{
		runner:         cfg.Runner,
		logger:         logger,
		callbacks:      cfg.Callbacks,
		startupTimeout: startupTimeout,
		gracePeriod:    gracePeriod,
		bufferSize:     bufferSize,
		output:         logging.NewOutputHandler(logger, cfg.Verbose),
		state:          StateUnstarted,
		done:           make(chan struct{}),
	}
}

// Start spawns the process and blocks until it announces its endpoint.
//
// Failure modes:
//   - *SpawnError: the executable could not be launched
//   - *StartupTimeoutError: no listen line within the startup timeout; the
//     process is left running and must be stopped by the caller
//   - *ExitedEarlyError: the process exited before announcing
//   - ctx.Err(): the caller gave up; the process is left running
func (s *Supervisor) Start(ctx context.Context) (Endpoint, error) {
	s.stateMu.Lock()
	if s.state != StateUnstarted {
		s.stateMu.Unlock()
		return Endpoint{}, ErrAlreadyStarted
	}
	s.stateMu.Unlock()
	s.setState(StateStarting)

	cmd, err := s.runner.BuildCommand()
	if err != nil {
		s.fail()
		return Endpoint{}, &SpawnError{Path: s.runner.Name(), Err: err}
	}

	// stdout and stderr share one pipe so ordering between them is kept
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		s.fail()
		return Endpoint{}, &SpawnError{Path: cmd.Path, Err: fmt.Errorf("output pipe: %w", err)}
	}
	cmd.Stdout = outWrite
	cmd.Stderr = outWrite

	// Own process group so signals reach browsers spawned by clicker too
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	s.procMu.Lock()
	if s.State() == StateStopped {
		// Stopped or killed while starting up
		s.procMu.Unlock()
		outRead.Close()
		outWrite.Close()
		s.closeDone()
		return Endpoint{}, &SpawnError{Path: cmd.Path, Err: errStoppedBeforeStart}
	}
	s.startTime = time.Now()
	if err := cmd.Start(); err != nil {
		s.procMu.Unlock()
		outRead.Close()
		outWrite.Close()
		s.logger.Error("failed_to_start_process", "path", cmd.Path, "error", err)
		s.fail()
		return Endpoint{}, &SpawnError{Path: cmd.Path, Err: err}
	}

	// Close parent's write-end so EOF arrives when the child side closes
	outWrite.Close()

	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.procMu.Unlock()

	s.logger.Info("clicker_started",
		"pid", s.pid,
		"path", cmd.Path,
		"args", cmd.Args[1:],
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(s.pid)
	}

	listen := parser.NewListenParser()
	s.pipeline = parser.NewPipeline("output", s.bufferSize, 0.01)
	s.reader = parser.NewPipeReader(outRead, s.pipeline, listen)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.reader.Run()
	}()
	parserDone := make(chan struct{})
	go func() {
		defer close(parserDone)
		s.pipeline.RunParser(s.output)
	}()

	go s.wait(outRead, readerDone, parserDone)

	timer := time.NewTimer(s.startupTimeout)
	defer timer.Stop()

	select {
	case <-listen.Found():
		return s.ready(listen), nil

	case <-s.done:
		// The tap sees the listen line before wait closes done, so a
		// process that announced and then exited counts as started
		select {
		case <-listen.Found():
			return s.ready(listen), nil
		default:
		}
		code := s.ExitCode()
		s.logger.Warn("clicker_exited_early", "pid", s.pid, "exit_code", code)
		return Endpoint{}, &ExitedEarlyError{ExitCode: code, Output: s.output.Output()}

	case <-timer.C:
		s.logger.Warn("clicker_startup_timeout",
			"pid", s.pid,
			"timeout", s.startupTimeout.String(),
		)
		return Endpoint{}, &StartupTimeoutError{Timeout: s.startupTimeout, Output: s.output.Output()}

	case <-ctx.Done():
		return Endpoint{}, ctx.Err()
	}
}

// ready records the discovered endpoint and reports it.
func (s *Supervisor) ready(listen *parser.ListenParser) Endpoint {
	addr, _ := listen.Addr()
	ep := Endpoint{Scheme: addr.Scheme, Host: addr.Host, Port: addr.Port}
	s.endpointMu.Lock()
	s.endpoint = ep
	s.endpointMu.Unlock()

	startup := time.Since(s.startTime)
	s.transition(StateStarting, StateRunning)
	s.logger.Info("clicker_ready",
		"pid", s.pid,
		"endpoint", ep.String(),
		"startup", startup.String(),
	)
	if s.callbacks.OnReady != nil {
		s.callbacks.OnReady(ep, startup)
	}
	return ep
}

// wait reaps the process and records its exit. It is the only writer of
// exitCode and the only closer of done.
func (s *Supervisor) wait(outRead *os.File, readerDone, parserDone <-chan struct{}) {
	waitErr := s.cmd.Wait()
	uptime := time.Since(s.startTime)
	code := extractExitCode(waitErr)

	// Let trailing output reach the handler before anyone reads it
	select {
	case <-readerDone:
	case <-time.After(outputDrainTimeout):
	}
	outRead.Close()
	select {
	case <-parserDone:
	case <-time.After(outputDrainTimeout):
	}

	s.exitMu.Lock()
	s.exitCode = code
	s.exitMu.Unlock()

	prev := s.State()
	s.setState(StateStopped)

	if prev == StateRunning {
		s.logger.Warn("clicker_exited_unexpectedly", "pid", s.pid, "exit_code", code, "uptime", uptime.String())
	} else {
		s.logger.Info("clicker_exited", "pid", s.pid, "exit_code", code, "uptime", uptime.String())
	}
	s.logPipelineStats()

	s.closeDone()

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(code, uptime)
	}
}

// Stop terminates the process: SIGTERM to its process group, then SIGKILL
// if it has not exited after the grace period. It returns only once the
// exit has been observed. Calling Stop again, concurrently or later, waits
// for the same exit and returns the same result.
func (s *Supervisor) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})
	if s.spawned() {
		<-s.done
	}
	return s.stopErr
}

func (s *Supervisor) stop() error {
	if s.stopUnspawned() {
		return nil
	}

	select {
	case <-s.done:
		return nil
	default:
	}

	s.setState(StateStopping)
	s.logger.Debug("clicker_stopping", "pid", s.pid, "grace_period", s.gracePeriod.String())

	if err := s.signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("sigterm_failed", "pid", s.pid, "error", err)
	}

	timer := time.NewTimer(s.gracePeriod)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
		s.forceKill()
		<-s.done
		return nil
	}
}

// Kill sends SIGKILL immediately and waits for the exit. It bypasses the
// graceful path and is used when a cooperative shutdown has already timed out.
func (s *Supervisor) Kill() {
	if s.stopUnspawned() {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}

	s.setState(StateStopping)
	s.forceKill()
	<-s.done
}

func (s *Supervisor) forceKill() {
	s.logger.Warn("force_killing_process", "pid", s.pid)

	s.exitMu.Lock()
	s.forceKills++
	s.exitMu.Unlock()

	if s.callbacks.OnForceKill != nil {
		s.callbacks.OnForceKill(s.pid)
	}
	if err := s.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("sigkill_failed", "pid", s.pid, "error", err)
	}
}

// signal delivers sig to the process group, falling back to the process.
func (s *Supervisor) signal(sig syscall.Signal) error {
	if pgid, err := syscall.Getpgid(s.pid); err == nil {
		return syscall.Kill(-pgid, sig)
	}
	return s.cmd.Process.Signal(sig)
}

// spawned reports whether a process was started.
func (s *Supervisor) spawned() bool {
	s.procMu.RLock()
	defer s.procMu.RUnlock()
	return s.cmd != nil
}

// stopUnspawned marks a supervisor whose process was never started as
// stopped, which also prevents a concurrent Start from spawning one.
func (s *Supervisor) stopUnspawned() bool {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.cmd != nil {
		return false
	}
	s.setState(StateStopped)
	s.closeDone()
	return true
}

// fail records a start failure that never produced a process.
func (s *Supervisor) fail() {
	s.setState(StateStopped)
	s.closeDone()
}

func (s *Supervisor) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
// Stopped is terminal: later transitions are ignored.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	if oldState == StateStopped {
		s.stateMu.Unlock()
		return
	}
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// transition moves from one state to another only if the current state
// matches from. A process that exited or is being stopped stays that way.
func (s *Supervisor) transition(from, to State) {
	s.stateMu.Lock()
	if s.state != from {
		s.stateMu.Unlock()
		return
	}
	s.state = to
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(from, to)
	}
}

// OutputStats describes how much process output was read and how much
// of it the log pipeline had to drop.
type OutputStats struct {
	Bytes   int64
	Lines   int64
	Dropped int64
	Logged  int64
}

// OutputStats returns the output counters. They are final once Done is
// closed.
func (s *Supervisor) OutputStats() OutputStats {
	var st OutputStats
	if s.reader != nil {
		st.Bytes, st.Lines = s.reader.Stats()
	}
	if s.pipeline != nil {
		_, st.Dropped, st.Logged = s.pipeline.Stats()
	}
	return st
}

// logPipelineStats logs output pipeline health when lines were dropped.
func (s *Supervisor) logPipelineStats() {
	if s.pipeline == nil {
		return
	}
	st := s.OutputStats()
	if st.Dropped > 0 || s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Info("pipeline_stats",
			"stream", s.pipeline.Name(),
			"bytes_read", st.Bytes,
			"lines_read", st.Lines,
			"lines_dropped", st.Dropped,
			"lines_logged", st.Logged,
			"degraded", s.pipeline.IsDegraded(),
		)
	}
}

// Endpoint returns the discovered endpoint, or false before discovery.
func (s *Supervisor) Endpoint() (Endpoint, bool) {
	s.endpointMu.RLock()
	defer s.endpointMu.RUnlock()
	return s.endpoint, !s.endpoint.IsZero()
}

// PID returns the process id, or 0 if the process was never spawned.
func (s *Supervisor) PID() int {
	s.procMu.RLock()
	defer s.procMu.RUnlock()
	return s.pid
}

// Done is closed once the process exit has been observed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitCode returns the exit code. Only meaningful after Done is closed.
func (s *Supervisor) ExitCode() int {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	return s.exitCode
}

// ForceKilled reports whether SIGKILL had to be sent.
func (s *Supervisor) ForceKilled() bool {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	return s.forceKills > 0
}

// Uptime returns the current uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	if !s.State().IsActive() {
		return 0
	}
	s.procMu.RLock()
	defer s.procMu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// Output returns the most recent captured output lines.
func (s *Supervisor) Output() string {
	return s.output.Output()
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	return 1
}
