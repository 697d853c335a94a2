package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	title    lipgloss.Style
	subtle   lipgloss.Style
	selected lipgloss.Style
	row      lipgloss.Style
	on       lipgloss.Style
	off      lipgloss.Style
	err      lipgloss.Style
	box      lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#8ab4f8")
	muted := lipgloss.Color("#909090")
	return theme{
		title:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		subtle:   lipgloss.NewStyle().Foreground(muted),
		selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e8eaed")).Background(lipgloss.Color("#303134")),
		row:      lipgloss.NewStyle().Foreground(lipgloss.Color("#bdc1c6")),
		on:       lipgloss.NewStyle().Foreground(lipgloss.Color("#81c995")),
		off:      lipgloss.NewStyle().Foreground(muted),
		err:      lipgloss.NewStyle().Foreground(lipgloss.Color("#f28b82")),
		box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5f6368")).Padding(0, 1),
	}
}
