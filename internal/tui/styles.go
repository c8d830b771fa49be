package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/alsksssass/deepagent/internal/events"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusDegraded = lipgloss.NewStyle().
				Foreground(lipgloss.Color("208")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "running":
		return StyleStatusRunning
	case events.StatusSuccess:
		return StyleStatusComplete
	case events.StatusDegraded:
		return StyleStatusDegraded
	case events.StatusFailed:
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	icon := "○"
	switch status {
	case "running":
		icon = "●"
	case events.StatusSuccess:
		icon = "✓"
	case events.StatusDegraded:
		icon = "~"
	case events.StatusFailed:
		icon = "✗"
	case events.StatusSkipped:
		icon = "-"
	}
	return statusStyle(status).Render(icon)
}
