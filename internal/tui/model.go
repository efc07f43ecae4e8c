package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-vibium-sync/internal/stats"
	"github.com/randomizedcoder/go-vibium-sync/internal/timeseries"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg reports session progress.
type StatusMsg struct {
	State      string // supervisor state name
	Endpoint   string
	PID        int
	Step       string // what the script is doing now
	StepsDone  int
	StepsTotal int
	Err        string // set when the script failed
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// CallSource provides call statistics.
type CallSource interface {
	Snapshot() []stats.MethodStats
	RecentCalls() []stats.CallEvent
	Total() int64
}

// RateSource provides rolling call rates. The dashboard samples it on
// every tick.
type RateSource interface {
	RecordSample()
	Stats() timeseries.RateStats
}

// Config holds TUI configuration.
type Config struct {
	URL         string
	MetricsAddr string
	CallSource  CallSource
	RateSource  RateSource // optional
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	url         string
	metricsAddr string
	source      CallSource
	rateSource  RateSource

	// Current state
	status       StatusMsg
	methods      []stats.MethodStats
	recent       []stats.CallEvent
	totalCalls   int64
	rates        timeseries.RateStats
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		url:         cfg.URL,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.CallSource,
		rateSource:  cfg.RateSource,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.rateSource != nil {
			m.rateSource.RecordSample()
		}
		m.refresh()
		return m, tickCmd()

	case StatusMsg:
		m.status = msg
		m.refresh()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.source != nil {
		m.methods = m.source.Snapshot()
		m.recent = m.source.RecentCalls()
		m.totalCalls = m.source.Total()
	}
	if m.rateSource != nil {
		m.rates = m.rateSource.Stats()
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView && len(m.recent) > 0 {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Status returns the last reported session status.
func (m Model) Status() StatusMsg {
	return m.status
}

// Progress returns script progress (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.status.StepsTotal == 0 {
		return 0
	}
	return float64(m.status.StepsDone) / float64(m.status.StepsTotal)
}

// Rates returns the last sampled call rates.
func (m Model) Rates() timeseries.RateStats {
	return m.rates
}

// ErrorRate returns failed calls over all calls.
func (m Model) ErrorRate() float64 {
	var calls, errs int64
	for _, ms := range m.methods {
		calls += ms.Count
		errs += ms.Errors
	}
	if calls == 0 {
		return 0
	}
	return float64(errs) / float64(calls)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStatus sends a status update to the TUI.
func SendStatus(p *tea.Program, status StatusMsg) {
	if p != nil {
		p.Send(status)
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
