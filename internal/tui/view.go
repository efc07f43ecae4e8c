package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-vibium-sync/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderSession(),
	}

	if len(m.methods) > 0 {
		sections = append(sections, m.renderCallTable())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the recent call log.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderRecentCalls(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-vibium-sync │ %s │ Calls: %s │ Rate: %.1f/s │ Elapsed: %s ",
		GetStateLabel(m.status.State),
		stats.FormatNumber(m.totalCalls),
		m.rates.Rate10s,
		stats.FormatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Session
// =============================================================================

func (m Model) renderSession() string {
	lines := []string{sectionHeaderStyle.Render("Session")}

	endpoint := m.status.Endpoint
	if endpoint == "" {
		endpoint = "-"
	}
	lines = append(lines, RenderKeyValue("Endpoint", endpoint))
	if m.status.PID > 0 {
		lines = append(lines, RenderKeyValue("Clicker PID", fmt.Sprintf("%d", m.status.PID)))
	}
	if m.url != "" {
		lines = append(lines, RenderKeyValue("Page", m.url))
	}

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	lines = append(lines, RenderProgressBar(m.Progress(), barWidth))

	switch {
	case m.status.Err != "":
		lines = append(lines, statusError.Render("✗ "+m.status.Err))
	case m.status.StepsTotal > 0 && m.status.StepsDone >= m.status.StepsTotal:
		lines = append(lines, statusOK.Render("✓ Script complete"))
	case m.status.Step != "":
		lines = append(lines, statusInfo.Render(fmt.Sprintf("%s... %d/%d", m.status.Step, m.status.StepsDone, m.status.StepsTotal)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// =============================================================================
// Call Statistics
// =============================================================================

func (m Model) renderCallTable() string {
	header := tableHeaderStyle.Render(fmt.Sprintf("%-22s %7s %7s %9s %9s %9s", "Method", "Calls", "Errors", "P50", "P95", "Max"))

	rows := []string{sectionHeaderStyle.Render("Calls"), header}
	for i, ms := range m.methods {
		row := fmt.Sprintf("%-22s %7s %s %9s %s %9s",
			ms.Method,
			stats.FormatNumber(ms.Count),
			GetErrorRateStyle(ms.ErrorRate()).Render(fmt.Sprintf("%7s", stats.FormatNumber(ms.Errors))),
			stats.FormatMs(ms.P50),
			LatencyStyle(ms.P95).Render(fmt.Sprintf("%9s", stats.FormatMs(ms.P95))),
			stats.FormatMs(ms.Max),
		)
		rows = append(rows, rowStyle(i).Render(row))
	}

	rows = append(rows, RenderKeyValue("Error rate", GetErrorRateStyle(m.ErrorRate()).Render(fmt.Sprintf("%.1f%%", m.ErrorRate()*100))))

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderRecentCalls() string {
	rows := []string{sectionHeaderStyle.Render("Recent Calls")}

	limit := m.height - 8
	if limit < 5 {
		limit = 5
	}
	for i, ev := range m.recent {
		if i >= limit {
			break
		}
		result := statusOK.Render("ok")
		if ev.Err != "" {
			result = statusError.Render(ev.Err)
		}
		row := fmt.Sprintf("%s  %-22s %9s  %s",
			dimStyle.Render(ev.At.Format("15:04:05.000")),
			ev.Method,
			stats.FormatMs(ev.Elapsed),
			result,
		)
		rows = append(rows, rowStyle(i).Render(row))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func rowStyle(i int) lipgloss.Style {
	if i%2 == 0 {
		return tableRowEvenStyle
	}
	return tableRowOddStyle
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle recent calls",
		"r: refresh",
	}

	right := ""
	if m.metricsAddr != "" {
		right = "Metrics: http://" + m.metricsAddr + "/metrics"
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	rightRendered := dimStyle.Render(right)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(rightRendered) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			rightRendered,
		),
	)
}
