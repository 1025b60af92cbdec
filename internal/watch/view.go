package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hostbeat/hostbeat/internal/metrics"
)

// Layout constants. The view targets a single column of cards; below
// minWidth the cards shrink with the terminal.
const (
	minWidth     = 60
	gaugeWidth   = 30
	maxProcesses = 8
)

func (m Model) renderWaiting() string {
	return "\n  " + m.spinner.View() + " " +
		LabelStyle.Render("waiting for first snapshot...") +
		"\n\n  " + MutedStyle.Render("press q to quit") + "\n"
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	width := m.width
	if width < minWidth {
		width = minWidth
	}
	inner := width - 6 // card borders and padding

	b.WriteString(CardStyle.Render(m.renderGauges(inner)))
	b.WriteString("\n")
	b.WriteString(CardStyle.Render(m.renderSystem(inner)))
	b.WriteString("\n")
	b.WriteString(CardStyle.Render(m.renderProcesses(inner)))
	if len(m.current.ServiceStatus) > 0 {
		b.WriteString("\n")
		b.WriteString(CardStyle.Render(m.renderServices(inner)))
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) renderHeader() string {
	snap := m.current

	target := "localhost"
	if snap.Hostname != "" {
		target = snap.Hostname
	}

	var status string
	switch snap.ConnectionStatus {
	case metrics.StatusConnected:
		status = StatusConnectedStyle.Render("● connected")
	case metrics.StatusError:
		status = StatusErrorStyle.Render("● stale")
	default:
		status = StatusLocalStyle.Render("● local")
	}

	title := HeaderStyle.Render("hostbeat · " + target)
	age := MutedStyle.Render(fmt.Sprintf("updated %ds ago", m.SecondsSinceUpdate()))

	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", status, "  ", age)
}

func (m Model) renderFooter() string {
	return FooterStyle.Render("q quit")
}

// renderGauges draws CPU, memory, and disk bars with CPU/memory sparklines.
func (m Model) renderGauges(width int) string {
	snap := m.current

	sparkWidth := width - gaugeWidth - 14
	if sparkWidth < 0 {
		sparkWidth = 0
	}

	lines := []string{
		TitleStyle.Render("usage"),
		renderGauge("cpu ", snap.CPUPercent, gaugeWidth) + " " + renderSparkline(m.cpuHist, sparkWidth),
		renderGauge("mem ", snap.Memory.Percent, gaugeWidth) + " " + renderSparkline(m.memHist, sparkWidth),
		renderGauge("disk", snap.DiskPercent, gaugeWidth),
	}
	return strings.Join(lines, "\n")
}

// renderSystem draws load average, uptime, and network totals.
func (m Model) renderSystem(width int) string {
	snap := m.current

	load := fmt.Sprintf("%.2f %.2f %.2f",
		snap.LoadAverage[0], snap.LoadAverage[1], snap.LoadAverage[2])

	var rx, tx uint64
	for _, t := range snap.Network.Traffic {
		rx += t.RxBytes
		tx += t.TxBytes
	}

	lines := []string{
		TitleStyle.Render("system"),
		LabelStyle.Render("load    ") + ValueStyle.Render(load),
		LabelStyle.Render("uptime  ") + ValueStyle.Render(FormatUptime(snap.UptimeSeconds)),
		LabelStyle.Render("conns   ") + ValueStyle.Render(fmt.Sprintf("%d", snap.Network.Connections)),
		LabelStyle.Render("traffic ") + ValueStyle.Render(
			"↓ "+HumanBytes(rx)+"  ↑ "+HumanBytes(tx)),
		LabelStyle.Render("memory  ") + ValueStyle.Render(
			HumanBytes(snap.Memory.UsedBytes)+" / "+HumanBytes(snap.Memory.TotalBytes)),
	}
	return strings.Join(lines, "\n")
}

// renderProcesses draws the top processes by CPU. The memory column is
// MB or percent depending on the snapshot's unit tag.
func (m Model) renderProcesses(width int) string {
	snap := m.current

	memHeader := "mem mb"
	if snap.MemUnit == metrics.MemUnitPercent {
		memHeader = "mem %"
	}

	lines := []string{
		TitleStyle.Render("top processes"),
		MutedStyle.Render(fmt.Sprintf("%-8s %6s %8s  %s", "user", "cpu %", memHeader, "name")),
	}

	count := len(snap.Processes)
	if count > maxProcesses {
		count = maxProcesses
	}
	for _, p := range snap.Processes[:count] {
		row := fmt.Sprintf("%-8s %6.1f %8.1f  %s",
			truncate(p.User, 8), p.CPUPercent, p.Memory, truncate(p.Name, width-28))
		style := lipgloss.NewStyle().Foreground(MetricColor(p.CPUPercent))
		lines = append(lines, style.Render(row))
	}
	if count == 0 {
		lines = append(lines, MutedStyle.Render("no process data"))
	}
	return strings.Join(lines, "\n")
}

// renderServices draws one status glyph per monitored service, sorted by name.
func (m Model) renderServices(width int) string {
	snap := m.current

	names := make([]string, 0, len(snap.ServiceStatus))
	for name := range snap.ServiceStatus {
		names = append(names, name)
	}
	sort.Strings(names)

	var cells []string
	for _, name := range names {
		var cell string
		switch snap.ServiceStatus[name] {
		case metrics.ServiceRunning:
			cell = ServiceRunningStyle.Render(GlyphRunning) + " " + ValueStyle.Render(name)
		case metrics.ServiceStopped:
			cell = ServiceStoppedStyle.Render(GlyphStopped) + " " + ValueStyle.Render(name)
		default:
			cell = ServiceUnknownStyle.Render(GlyphUnknown) + " " + MutedStyle.Render(name)
		}
		cells = append(cells, cell)
	}

	return TitleStyle.Render("services") + "\n" + strings.Join(cells, "   ")
}

// renderGauge draws a labeled horizontal bar colored by severity.
func renderGauge(label string, percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	style := lipgloss.NewStyle().Foreground(MetricColor(percent))

	return LabelStyle.Render(label) + " " + style.Render(bar) +
		ValueStyle.Render(fmt.Sprintf(" %5.1f%%", percent))
}

// renderSparkline draws a block-character sparkline over a fixed 0-100 range,
// right-aligned so fresh data hugs the right edge.
func renderSparkline(data []float64, width int) string {
	if width <= 0 || len(data) == 0 {
		return ""
	}

	if len(data) > width {
		data = data[len(data)-width:]
	}

	var b strings.Builder
	for i := 0; i < width-len(data); i++ {
		b.WriteRune(' ')
	}
	for _, v := range data {
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		idx := int(v / 100 * float64(len(sparklineBlocks)-1))
		b.WriteRune(sparklineBlocks[idx])
	}

	return lipgloss.NewStyle().Foreground(ColorGraph).Render(b.String())
}

// FormatUptime renders seconds as "12d 3h 45m" dropping leading zero units.
func FormatUptime(seconds uint64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// HumanBytes renders a byte count with a binary-ish decimal unit.
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
