package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hostbeat/hostbeat/internal/metrics"
	"github.com/hostbeat/hostbeat/internal/monitor"
)

// historySize is how many data points the sparklines retain.
const historySize = 120

// spinnerFrames match the half-circle spinner used across the CLI.
var spinnerFrames = spinner.Spinner{
	Frames: []string{"◐", "◓", "◑", "◒"},
	FPS:    time.Second / 10,
}

// snapshotMsg carries the next snapshot from the distributor stream.
type snapshotMsg struct {
	snap *metrics.Snapshot
}

// streamClosedMsg signals that the snapshot stream ended.
type streamClosedMsg struct{}

// Model is the Bubble Tea model for the live metrics view.
type Model struct {
	svc   *monitor.Service
	snaps <-chan *metrics.Snapshot
	unsub func()

	current    *metrics.Snapshot
	cpuHist    []float64
	memHist    []float64
	lastUpdate time.Time

	width    int
	height   int
	spinner  spinner.Model
	quitting bool
}

// NewModel builds the watch model over an already-subscribed snapshot stream.
// The caller owns the scheduler lifecycle; unsub is invoked when the user quits.
func NewModel(svc *monitor.Service, snaps <-chan *metrics.Snapshot, unsub func()) Model {
	sp := spinner.New()
	sp.Spinner = spinnerFrames
	sp.Style = lipgloss.NewStyle().Foreground(ColorAccent)

	return Model{
		svc:     svc,
		snaps:   snaps,
		unsub:   unsub,
		spinner: sp,
		cpuHist: make([]float64, 0, historySize),
		memHist: make([]float64, 0, historySize),
	}
}

// Init starts the spinner and begins polling the snapshot stream.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.snaps))
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			if m.unsub != nil {
				m.unsub()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.pushSnapshot(msg.snap)
		return m, waitForSnapshot(m.snaps)

	case streamClosedMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.current == nil {
		return m.renderWaiting()
	}
	return m.renderDashboard()
}

// Current returns the most recent snapshot, nil before the first arrives.
func (m Model) Current() *metrics.Snapshot {
	return m.current
}

// SecondsSinceUpdate returns how long ago the last snapshot arrived.
func (m Model) SecondsSinceUpdate() int {
	if m.lastUpdate.IsZero() {
		return 0
	}
	return int(time.Since(m.lastUpdate).Seconds())
}

// pushSnapshot records a snapshot and appends to the sparkline history.
func (m *Model) pushSnapshot(snap *metrics.Snapshot) {
	if snap == nil {
		return
	}
	m.current = snap
	m.lastUpdate = time.Now()
	m.cpuHist = pushBounded(m.cpuHist, snap.CPUPercent)
	m.memHist = pushBounded(m.memHist, snap.Memory.Percent)
}

// pushBounded appends v, evicting the oldest point past historySize.
func pushBounded(hist []float64, v float64) []float64 {
	hist = append(hist, v)
	if len(hist) > historySize {
		hist = hist[len(hist)-historySize:]
	}
	return hist
}

// waitForSnapshot returns a command that blocks on the stream for the next
// snapshot. The distributor drops rather than blocks on slow consumers, so
// this receive never wedges the scheduler.
func waitForSnapshot(snaps <-chan *metrics.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-snaps
		if !ok {
			return streamClosedMsg{}
		}
		return snapshotMsg{snap: snap}
	}
}

// Run subscribes to the service's snapshot stream, starts the scheduler at
// the given interval, and blocks in the TUI until the user quits.
func Run(svc *monitor.Service, interval time.Duration) error {
	svc.Scheduler().Start(interval)

	snaps, unsub := svc.Distributor().Subscribe()
	model := NewModel(svc, snaps, unsub)

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
