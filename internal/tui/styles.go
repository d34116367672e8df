package tui

import "github.com/charmbracelet/lipgloss"

var (
	subtle  = lipgloss.Color("#a6adc8")
	accent  = lipgloss.Color("#74c7ec")
	warning = lipgloss.Color("#fab387")
	danger  = lipgloss.Color("#f38ba8")
	success = lipgloss.Color("#a6e3a1")

	appStyle    = lipgloss.NewStyle().Padding(1, 2)
	titleStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(subtle)
	promptStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(subtle).
			Padding(0, 1)

	phaseStyles = map[string]lipgloss.Style{
		"idle":       lipgloss.NewStyle().Foreground(subtle),
		"permission": lipgloss.NewStyle().Foreground(warning).Bold(true),
		"recording":  lipgloss.NewStyle().Foreground(danger).Bold(true),
		"review":     lipgloss.NewStyle().Foreground(accent),
		"uploading":  lipgloss.NewStyle().Foreground(accent).Italic(true),
		"submitted":  lipgloss.NewStyle().Foreground(success).Bold(true),
		"error":      lipgloss.NewStyle().Foreground(danger).Bold(true),
	}

	toastStyles = map[string]lipgloss.Style{
		"info":    lipgloss.NewStyle().Foreground(accent),
		"warning": lipgloss.NewStyle().Foreground(warning),
		"error":   lipgloss.NewStyle().Foreground(danger),
	}
)
