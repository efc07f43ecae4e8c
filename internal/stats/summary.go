package stats

// This file implements the exit summary printed when the CLI finishes.

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	rule    = "═══════════════════════════════════════════════════════════════════════════════\n"
	subRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds the run totals that do not come from CallStats.
type SummaryConfig struct {
	// Duration is the total run duration
	Duration time.Duration

	// Endpoint is the clicker websocket URL
	Endpoint string

	// PID is the clicker process id, 0 when connected to an existing server
	PID int

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// Outcomes counts calls by outcome label (from metrics.Collector)
	Outcomes map[string]int64

	// ExitCodes is a map of clicker exit codes to counts
	ExitCodes map[int]int64

	// ForceKills counts clicker processes that needed SIGKILL
	ForceKills int64

	// Escalated counts sessions whose quit was not answered in time
	Escalated int64
}

// FormatExitSummary formats call statistics for display at program exit.
func FormatExitSummary(methods []MethodStats, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("                          go-vibium-sync Exit Summary\n")
	b.WriteString(rule + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.Endpoint != "" {
		fmt.Fprintf(&b, "Clicker Endpoint:       %s\n", cfg.Endpoint)
	}
	if cfg.PID > 0 {
		fmt.Fprintf(&b, "Clicker PID:            %d\n", cfg.PID)
	}
	b.WriteString("\n")

	if len(methods) > 0 {
		b.WriteString(subRule)
		b.WriteString("                                Call Latency\n")
		b.WriteString(subRule + "\n")

		fmt.Fprintf(&b, "  %-22s %7s %7s %10s %10s %10s %10s\n", "Method", "Calls", "Errors", "P50", "P95", "P99", "Max")
		b.WriteString("  " + strings.Repeat("─", 80) + "\n")
		for _, m := range methods {
			fmt.Fprintf(&b, "  %-22s %7s %7s %10s %10s %10s %10s\n",
				m.Method,
				FormatNumber(m.Count),
				FormatNumber(m.Errors),
				FormatMs(m.P50),
				FormatMs(m.P95),
				FormatMs(m.P99),
				FormatMs(m.Max),
			)
		}
		b.WriteString("\n")
	}

	if len(cfg.Outcomes) > 0 {
		b.WriteString("Call Outcomes:\n")
		for _, name := range sortedKeys(cfg.Outcomes) {
			fmt.Fprintf(&b, "  %-20s %s\n", name, FormatNumber(cfg.Outcomes[name]))
		}
		b.WriteString("\n")
	}

	if len(cfg.ExitCodes) > 0 {
		b.WriteString("Clicker Exit Codes:\n")
		codes := make([]int, 0, len(cfg.ExitCodes))
		for code := range cfg.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  %4d %-10s %d\n", code, exitCodeLabel(code), cfg.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	b.WriteString(renderFootnotes(cfg))

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(rule)

	return b.String()
}

// renderFootnotes adds shutdown diagnostics when something was forced.
func renderFootnotes(cfg SummaryConfig) string {
	var footnotes []string

	if cfg.Escalated > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[1] Sessions terminated after quit went unanswered: %d", cfg.Escalated))
	}
	if cfg.ForceKills > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[2] Clicker processes killed after ignoring SIGTERM: %d", cfg.ForceKills))
	}

	if len(footnotes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(subRule)
	b.WriteString("                                 Footnotes\n")
	b.WriteString(subRule + "\n")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "  %s\n", fn)
	}
	b.WriteString("\n")
	return b.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
