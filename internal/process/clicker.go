package process

import (
	"os/exec"
	"strconv"
	"strings"
)

// ClickerConfig holds configuration for the clicker server process.
type ClickerConfig struct {
	// BinaryPath is the path to the clicker binary.
	BinaryPath string

	// Port is the port to request with --port. 0 lets clicker choose.
	Port int

	// Headless runs the browser without a window. When false, --headed is passed.
	Headless bool

	// Env is appended to the inherited environment.
	Env []string
}

// DefaultClickerConfig returns a ClickerConfig with sensible defaults.
func DefaultClickerConfig() *ClickerConfig {
	return &ClickerConfig{
		BinaryPath: "clicker",
		Headless:   true,
	}
}

// ClickerRunner implements Runner for `clicker serve`.
type ClickerRunner struct {
	config *ClickerConfig
}

// NewClickerRunner creates a new clicker runner with the given configuration.
func NewClickerRunner(cfg *ClickerConfig) *ClickerRunner {
	return &ClickerRunner{config: cfg}
}

// Name returns "clicker".
func (r *ClickerRunner) Name() string {
	return "clicker"
}

// BuildCommand creates an exec.Cmd for `clicker serve`.
func (r *ClickerRunner) BuildCommand() (*exec.Cmd, error) {
	cmd := exec.Command(r.config.BinaryPath, r.buildArgs()...)
	if len(r.config.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.config.Env...)
	}
	return cmd, nil
}

// buildArgs constructs the clicker command-line arguments.
func (r *ClickerRunner) buildArgs() []string {
	args := []string{"serve"}

	if r.config.Port > 0 {
		args = append(args, "--port", strconv.Itoa(r.config.Port))
	}
	if !r.config.Headless {
		args = append(args, "--headed")
	}

	return args
}

// Config returns the clicker configuration.
func (r *ClickerRunner) Config() *ClickerConfig {
	return r.config
}

// CommandString returns the command that would be executed (for debugging).
func (r *ClickerRunner) CommandString() string {
	return r.config.BinaryPath + " " + strings.Join(r.buildArgs(), " ")
}
