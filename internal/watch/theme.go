package watch

import "github.com/charmbracelet/lipgloss"

var (
	colorHealthy = lipgloss.Color("#22c55e")
	colorDanger  = lipgloss.Color("#dc2626")
	colorWarning = lipgloss.Color("#d97706")
	colorMuted   = lipgloss.Color("#6b7280")
	colorStart   = lipgloss.Color("#2563eb")
	colorEnd     = lipgloss.Color("#16a34a")
	colorAccent  = lipgloss.Color("#a855f7")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	toolStyle  = lipgloss.NewStyle().Bold(true)
)

func typeStyle(eventType string) lipgloss.Style {
	switch eventType {
	case "tool_start":
		return lipgloss.NewStyle().Foreground(colorStart)
	case "tool_end":
		return lipgloss.NewStyle().Foreground(colorEnd)
	default:
		return lipgloss.NewStyle().Foreground(colorWarning)
	}
}
