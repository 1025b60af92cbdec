package watch

import (
	"github.com/charmbracelet/lipgloss"
)

// Dashboard color palette.
const (
	ColorBorder = lipgloss.Color("#2A2A4A")

	// Severity colors for percentage metrics.
	ColorHealthy  = lipgloss.Color("#39FF14")
	ColorWarning  = lipgloss.Color("#FFAA00")
	ColorCritical = lipgloss.Color("#FF0055")

	ColorTextPrimary   = lipgloss.Color("#FFFFFF")
	ColorTextSecondary = lipgloss.Color("#B4B4D0")
	ColorTextMuted     = lipgloss.Color("#6B6B8D")

	ColorAccent = lipgloss.Color("#FF2E97")
	ColorGraph  = lipgloss.Color("#00FFFF")
)

// Thresholds for metric severity levels.
const (
	WarningThreshold  = 70.0
	CriticalThreshold = 90.0
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Bold(true).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Padding(0, 1)

	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1).
			MarginRight(1)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextSecondary)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	StatusLocalStyle     = lipgloss.NewStyle().Foreground(ColorGraph)
	StatusConnectedStyle = lipgloss.NewStyle().Foreground(ColorHealthy)
	StatusErrorStyle     = lipgloss.NewStyle().Foreground(ColorCritical)

	ServiceRunningStyle = lipgloss.NewStyle().Foreground(ColorHealthy)
	ServiceStoppedStyle = lipgloss.NewStyle().Foreground(ColorCritical)
	ServiceUnknownStyle = lipgloss.NewStyle().Foreground(ColorTextMuted)
)

// Service state indicator glyphs.
const (
	GlyphRunning = "◉"
	GlyphStopped = "◌"
	GlyphUnknown = "◔"
)

// sparklineBlocks are block characters for 8-level vertical resolution,
// lowest to highest.
var sparklineBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// MetricColor returns the severity color for a percentage-based metric:
// green below 70%, amber 70-90%, red above 90%.
func MetricColor(percent float64) lipgloss.Color {
	switch {
	case percent >= CriticalThreshold:
		return ColorCritical
	case percent >= WarningThreshold:
		return ColorWarning
	default:
		return ColorHealthy
	}
}
