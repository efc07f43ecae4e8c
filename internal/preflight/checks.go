// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/process"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options selects which checks apply.
type Options struct {
	// ClickerPath is the explicit binary path, empty to search
	ClickerPath string

	// Port is the requested clicker port, 0 for any
	Port int

	// Endpoint is set when connecting to a running clicker
	Endpoint string
}

// Browsers fork renderer, GPU and utility processes and hold many sockets.
const (
	requiredFDs       = 1024
	requiredProcesses = 256
)

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	if opts.Endpoint != "" {
		add(checkEndpoint(opts.Endpoint))
		return result
	}

	add(checkFileDescriptors())
	add(checkProcessLimit())
	add(checkClicker(opts.ClickerPath))
	if opts.Port > 0 {
		add(checkPortFree(opts.Port))
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<30) {
		actual = 1 << 30
	}

	return Check{
		Name:     "file_descriptors",
		Required: requiredFDs,
		Actual:   actual,
		Passed:   actual >= requiredFDs,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, requiredFDs),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit() Check {
	return parseProcessLimit("/proc/self/limits")
}

func parseProcessLimit(path string) Check {
	required := requiredProcesses

	data, err := os.ReadFile(path)
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	// Parse "Max processes" line
	actual := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkClicker verifies the clicker binary resolves and is executable.
func checkClicker(explicit string) Check {
	path, err := process.ResolveBinary(explicit)
	if err != nil {
		return Check{
			Name:    "clicker",
			Passed:  false,
			Message: err.Error(),
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "clicker",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    "clicker",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable", path),
		}
	}

	return Check{
		Name:    "clicker",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkPortFree verifies nothing is listening on the requested port.
func checkPortFree(port int) Check {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{
			Name:    "port",
			Passed:  false,
			Message: fmt.Sprintf("%d is in use: %v", port, err),
		}
	}
	ln.Close()

	return Check{
		Name:    "port",
		Passed:  true,
		Message: fmt.Sprintf("%d is free", port),
	}
}

// checkEndpoint verifies a running clicker accepts TCP connections.
func checkEndpoint(endpoint string) Check {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return Check{
			Name:    "endpoint",
			Passed:  false,
			Message: fmt.Sprintf("invalid endpoint %q", endpoint),
		}
	}

	conn, err := net.DialTimeout("tcp", u.Host, 2*time.Second)
	if err != nil {
		return Check{
			Name:    "endpoint",
			Passed:  false,
			Message: fmt.Sprintf("%s unreachable: %v", u.Host, err),
		}
	}
	conn.Close()

	return Check{
		Name:    "endpoint",
		Passed:  true,
		Message: fmt.Sprintf("%s reachable", u.Host),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "clicker":
		return "pass -clicker, set $CLICKER_PATH, or put clicker on $PATH"
	case "port":
		return "choose another -port, or 0 to let clicker pick"
	case "endpoint":
		return "start clicker serve, or drop -endpoint to launch one"
	default:
		return "see documentation"
	}
}
