package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/severity"
)

// Styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	gaugeFill   = "█"
	gaugeEmpty  = "░"
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1)
)

// Severity colors: green, yellow, red.
var (
	colorNormal   = lipgloss.Color("42")
	colorWarning  = lipgloss.Color("220")
	colorCritical = lipgloss.Color("196")
)

func severityColor(l severity.Level) lipgloss.Color {
	switch l {
	case severity.Critical:
		return colorCritical
	case severity.Warning:
		return colorWarning
	default:
		return colorNormal
	}
}

// paint colors s by the metric's severity. Display-only metrics stay plain.
func paint(m model.Metric, s string) string {
	if !m.Classified {
		return s
	}
	return lipgloss.NewStyle().Foreground(severityColor(m.Severity)).Render(s)
}

func (m *Model) View() string {
	if m.latest == nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("sysmoni"),
			subtleStyle.Render("Collecting first sample…"),
			m.footer())
	}
	b := m.latest

	row1 := []string{cpuCard(b), memoryCard(b), diskCard(b)}
	row2 := []string{networkCard(b)}
	if c := gpuCard(b); c != "" {
		row2 = append(row2, c)
	}
	if c := batteryCard(b); c != "" {
		row2 = append(row2, c)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header(b),
		lipgloss.JoinHorizontal(lipgloss.Top, row1...),
		lipgloss.JoinHorizontal(lipgloss.Top, row2...),
		processCard(b),
		m.footer())
}

func header(b *model.Bundle) string {
	parts := []string{titleStyle.Render("sysmoni")}
	if h := b.Host; h != nil {
		parts = append(parts,
			labelStyle.Render(h.Hostname),
			subtleStyle.Render(h.OS),
			subtleStyle.Render("up "+formatUptime(h.Uptime)),
			subtleStyle.Render(fmt.Sprintf("%d procs", h.Procs)))
	}
	parts = append(parts, subtleStyle.Render(b.Taken.Format("Mon Jan 2 15:04:05 MST 2006")))
	return strings.Join(parts, "  ")
}

func (m *Model) footer() string {
	lines := []string{m.help.View(m.keys)}
	if m.help.ShowAll {
		lines = append(lines, legend())
	}
	return strings.Join(lines, "\n")
}

func legend() string {
	return strings.Join([]string{
		lipgloss.NewStyle().Foreground(colorNormal).Render("■ normal"),
		lipgloss.NewStyle().Foreground(colorWarning).Render("■ warning"),
		lipgloss.NewStyle().Foreground(colorCritical).Render("■ critical"),
	}, "  ")
}

func cpuCard(b *model.Bundle) string {
	var lines []string
	if b.Omits(model.FamilyCPU) {
		lines = append(lines, unavailable)
	} else if usage := b.Get(model.MetricCPUUsage); usage.Available {
		lines = append(lines, paint(usage, gaugeBar(usage.Value, 28)))
	} else {
		lines = append(lines, subtleStyle.Render("measuring…"))
	}

	for i := 0; i < len(b.Cores); i += 4 {
		end := min(i+4, len(b.Cores))
		cells := make([]string, 0, 4)
		for _, c := range b.Cores[i:end] {
			cells = append(cells, paint(c, fmt.Sprintf("%-7s %5.1f%%", c.Label, c.Value)))
		}
		lines = append(lines, strings.Join(cells, "  "))
	}

	var extra []string
	if b.Has(model.MetricLoad1) {
		extra = append(extra, fmt.Sprintf("load %.2f %.2f %.2f",
			b.Get(model.MetricLoad1).Value, b.Get(model.MetricLoad5).Value, b.Get(model.MetricLoad15).Value))
	}
	if f := b.Get(model.MetricCPUFreq); f.Available {
		extra = append(extra, fmt.Sprintf("%.0f MHz", f.Value))
	}
	if t := b.Get(model.MetricCPUTemp); t.Available {
		extra = append(extra, paint(t, fmt.Sprintf("%.0f°C", t.Value)))
	}
	if len(extra) > 0 {
		lines = append(lines, strings.Join(extra, "  "))
	}
	return card("CPU", strings.Join(lines, "\n"))
}

func memoryCard(b *model.Bundle) string {
	if !b.Has(model.MetricMemUsage) {
		return card("Memory", unavailable)
	}
	usage := b.Get(model.MetricMemUsage)
	lines := []string{
		paint(usage, gaugeBar(usage.Value, 28)),
		fmt.Sprintf("%s / %s",
			formatBytes(b.Get(model.MetricMemUsed).Value),
			formatBytes(b.Get(model.MetricMemTotal).Value)),
	}
	if swap := b.Get(model.MetricSwapUsage); swap.Available {
		lines = append(lines, fmt.Sprintf("Swap %s  %s / %s",
			paint(swap, fmt.Sprintf("%5.1f%%", swap.Value)),
			formatBytes(b.Get(model.MetricSwapUsed).Value),
			formatBytes(b.Get(model.MetricSwapTotal).Value)))
	} else {
		lines = append(lines, subtleStyle.Render("Swap none"))
	}
	return card("Memory", strings.Join(lines, "\n"))
}

func diskCard(b *model.Bundle) string {
	var lines []string
	if usage := b.Get(model.MetricDiskUsage); usage.Available {
		lines = append(lines,
			paint(usage, gaugeBar(usage.Value, 28)),
			fmt.Sprintf("%s  %s / %s", usage.Label,
				formatBytes(b.Get(model.MetricDiskUsed).Value),
				formatBytes(b.Get(model.MetricDiskTotal).Value)))
	} else {
		lines = append(lines, unavailable)
	}

	switch {
	case b.Has(model.MetricDiskRead):
		r, w := b.Get(model.MetricDiskRead), b.Get(model.MetricDiskWrite)
		lines = append(lines,
			fmt.Sprintf("%s  R %s  W %s", r.Label, formatRate(r.Value), formatRate(w.Value)),
			fmt.Sprintf("IOPS  R %.0f  W %.0f",
				b.Get(model.MetricDiskROps).Value, b.Get(model.MetricDiskWOps).Value))
	case b.Omits(model.FamilyDiskIO):
		lines = append(lines, subtleStyle.Render("I/O unavailable"))
	default:
		lines = append(lines, subtleStyle.Render("I/O measuring…"))
	}
	return card("Disk", strings.Join(lines, "\n"))
}

func networkCard(b *model.Bundle) string {
	if b.Omits(model.FamilyNetwork) {
		return card("Network", unavailable)
	}
	var lines []string
	for _, iface := range b.Interfaces {
		state := subtleStyle.Render("down")
		if iface.Up {
			state = "up"
		}
		line := fmt.Sprintf("%-10s %-4s %-15s", truncate(iface.Name, 10), state, iface.Addr)
		if iface.Tx.Available {
			line += fmt.Sprintf("  ↑ %s  ↓ %s",
				paint(iface.Tx, formatRate(iface.Tx.Value)),
				paint(iface.Rx, formatRate(iface.Rx.Value)))
		}
		lines = append(lines, line)
	}
	if tx := b.Get(model.MetricNetTx); tx.Available {
		rx := b.Get(model.MetricNetRx)
		lines = append(lines, labelStyle.Render("total")+fmt.Sprintf("  ↑ %s  ↓ %s",
			paint(tx, formatRate(tx.Value)), paint(rx, formatRate(rx.Value))))
	}
	if len(lines) == 0 {
		lines = append(lines, subtleStyle.Render("no interfaces"))
	}
	return card("Network", strings.Join(lines, "\n"))
}

func gpuCard(b *model.Bundle) string {
	if len(b.GPUs) == 0 {
		return ""
	}
	lines := make([]string, 0, len(b.GPUs))
	for _, g := range b.GPUs {
		mem := fmt.Sprintf("%10s", "n/a")
		if g.MemUsedMB != nil && g.MemTotalMB != nil {
			mem = fmt.Sprintf("%4.0f/%-5.0fMiB", *g.MemUsedMB, *g.MemTotalMB)
		}
		lines = append(lines, fmt.Sprintf("%s %s mem %s %s",
			truncate(g.Name, 14),
			reading(g.Util, "%4.0f%%"),
			paint(g.Mem, mem),
			reading(g.Temp, "%2.0f°C")))
	}
	return card("GPU", strings.Join(lines, "\n"))
}

// reading formats an optional metric, showing n/a when it was not reported.
func reading(m model.Metric, format string) string {
	if !m.Available {
		return subtleStyle.Render("n/a")
	}
	return paint(m, fmt.Sprintf(format, m.Value))
}

func batteryCard(b *model.Bundle) string {
	if b.Battery == nil {
		return ""
	}
	state := "on battery"
	if b.Battery.Charging {
		state = "plugged in"
	}
	if b.Battery.State != "" {
		state += " (" + strings.ToLower(b.Battery.State) + ")"
	}
	c := b.Battery.Charge
	return card("Battery", paint(c, fmt.Sprintf("%.0f%%", c.Value))+"  "+subtleStyle.Render(state))
}

func processCard(b *model.Bundle) string {
	if b.Omits(model.FamilyProcesses) {
		return card("Processes", unavailable)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-7s %-24s %6s %6s", "pid", "cmd", "cpu", "mem")
	for _, p := range b.Processes {
		cpu := subtleStyle.Render(fmt.Sprintf("%6s", "-"))
		if p.CPU.Available {
			cpu = paint(p.CPU, fmt.Sprintf("%6.1f", p.CPU.Value))
		}
		fmt.Fprintf(&sb, "\n%-7d %-24s %s %s", p.PID, truncate(p.Name, 24), cpu,
			paint(p.Mem, fmt.Sprintf("%6.1f", p.Mem.Value)))
	}
	return card("Top processes", sb.String())
}

var unavailable = subtleStyle.Render("unavailable")

// Helpers
func gaugeBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int((pct / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %5.1f%%",
		strings.Repeat(gaugeFill, filled),
		strings.Repeat(gaugeEmpty, width-filled),
		pct)
}

func card(title, body string) string {
	return cardStyle.Render(labelStyle.Render(title) + "\n" + body)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatBytes(v float64) string {
	if v < 0 {
		v = 0
	}
	return humanize.IBytes(uint64(v))
}

func formatRate(v float64) string {
	return formatBytes(v) + "/s"
}

// formatUptime renders d as "3d 4h 12m", dropping leading zero units.
func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	mins := int(d/time.Minute) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
