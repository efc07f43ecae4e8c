package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent output lines kept for diagnostics.
	MaxBufferedLines = 100
)

// OutputHandler receives the combined stdout/stderr of the managed clicker
// process. It keeps the most recent lines for startup diagnostics and logs
// each line at a level derived from its content.
type OutputHandler struct {
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler for one managed process.
func NewOutputHandler(logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		logger:  OrDiscard(logger),
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// ParseLine records and logs a single line of process output.
// It satisfies parser.LineParser so the handler can sit on a pipeline.
func (h *OutputHandler) ParseLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	h.logLine(line)
}

func (h *OutputHandler) logLine(line string) {
	level := classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level < slog.LevelWarn {
		return
	}

	h.logger.Log(context.Background(), level, "clicker_output", "line", line)
}

// classifyLine determines the log level for a line based on content.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	switch {
	case strings.Contains(lower, "panic"),
		strings.Contains(lower, "fatal"),
		strings.Contains(lower, "error"),
		strings.Contains(lower, "failed"):
		return slog.LevelWarn
	case strings.Contains(lower, "warning"),
		strings.Contains(lower, "deprecated"):
		return slog.LevelWarn
	case strings.Contains(lower, "listening on"):
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > h.total {
		n = h.total
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// Output returns every buffered line joined with newlines.
func (h *OutputHandler) Output() string {
	return strings.Join(h.RecentLines(MaxBufferedLines), "\n")
}

// TotalLines returns how many lines have been seen, including ones that
// have since been evicted from the buffer.
func (h *OutputHandler) TotalLines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
