// Package tui provides a live terminal dashboard for a browser session.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It shows the clicker process state, script progress, per-method call
// latency and the most recent calls.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Palette
// =============================================================================

var (
	colorBrand  = lipgloss.Color("#2563EB") // Blue
	colorHeader = lipgloss.Color("#14B8A6") // Teal

	colorGood = lipgloss.Color("#22C55E")
	colorWarn = lipgloss.Color("#EAB308")
	colorBad  = lipgloss.Color("#DC2626")
	colorNote = lipgloss.Color("#60A5FA")

	colorFg     = lipgloss.Color("#F3F4F6")
	colorFgSoft = lipgloss.Color("#A1A1AA")
	colorFgDim  = lipgloss.Color("#71717A")
	colorRule   = lipgloss.Color("#3F3F46")
)

// =============================================================================
// Styles
// =============================================================================

var (
	dimStyle = lipgloss.NewStyle().Foreground(colorFgDim)

	statusOK    = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	statusWarn  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	statusError = lipgloss.NewStyle().Foreground(colorBad).Bold(true)
	statusInfo  = lipgloss.NewStyle().Foreground(colorNote).Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorFg).
			Background(colorBrand).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorHeader).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorRule).
				MarginTop(1)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorHeader).
				Bold(true)

	tableRowEvenStyle = lipgloss.NewStyle().Foreground(colorFg)
	tableRowOddStyle  = lipgloss.NewStyle().Foreground(colorFgSoft)

	labelStyle = lipgloss.NewStyle().Foreground(colorFgSoft).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(colorFg).Bold(true)

	barFullStyle  = lipgloss.NewStyle().Foreground(colorBrand)
	barEmptyStyle = lipgloss.NewStyle().Foreground(colorRule)

	footerStyle = lipgloss.NewStyle().Foreground(colorFgSoft).MarginTop(1)
)

// Latency thresholds for LatencyStyle.
const (
	latencyGood = 250 * time.Millisecond
	latencyWarn = 2 * time.Second
)

// =============================================================================
// Indicators
// =============================================================================

// GetStateStyle returns a style for a supervisor state name.
func GetStateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return statusOK
	case "starting", "stopping":
		return statusWarn
	case "stopped":
		return statusError
	default:
		return statusInfo
	}
}

// GetStateLabel returns a styled state indicator.
func GetStateLabel(state string) string {
	if state == "" {
		state = "unstarted"
	}
	return GetStateStyle(state).Render("● " + state)
}

// GetErrorRateStyle colours an error rate: none, under 1%, or more.
func GetErrorRateStyle(errorRate float64) lipgloss.Style {
	switch {
	case errorRate == 0:
		return statusOK
	case errorRate < 0.01:
		return statusWarn
	default:
		return statusError
	}
}

// LatencyStyle colours a call latency. Navigation and find calls wait on
// the page, so the thresholds are loose.
func LatencyStyle(d time.Duration) lipgloss.Style {
	switch {
	case d < latencyGood:
		return statusOK
	case d < latencyWarn:
		return statusWarn
	default:
		return statusError
	}
}

// =============================================================================
// Helpers
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label, value string) string {
	return labelStyle.Render(label+":") + valueStyle.Render(value)
}

// RenderProgressBar renders a bar of the given width plus a percentage.
// Progress outside 0..1 is clamped for the bar but shown as is.
func RenderProgressBar(progress float64, width int) string {
	width = max(width, 10)
	filled := min(max(int(progress*float64(width)), 0), width)

	return barFullStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		valueStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}
