// Package ui provides the render surfaces and notification sinks of the
// chat widget: a Bubble Tea widget for terminals and a plain line-mode
// surface for pipes and dumb terminals.
package ui

import "github.com/charmbracelet/lipgloss"

const (
	// Title is the widget header.
	Title = "FarmerAssist"
	// Placeholder is shown in the empty input.
	Placeholder = "Digite sua pergunta..."
	// LimitPlaceholder replaces Placeholder once the quota is used up.
	LimitPlaceholder = "Limite de perguntas atingido"
)

var (
	primary = lipgloss.Color("#2F7D32")
	muted   = lipgloss.Color("245")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primary).
			Padding(0, 1)

	userBubbleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primary).
			Padding(0, 1)

	assistantBubbleStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")).
				Padding(0, 1)

	launcherStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primary).
			Padding(0, 2)

	mutedStyle     = lipgloss.NewStyle().Foreground(muted)
	errorToast     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoToast      = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	promptStyle    = lipgloss.NewStyle().Foreground(primary).Bold(true)
	assistantLabel = lipgloss.NewStyle().Foreground(primary).Bold(true)
)
