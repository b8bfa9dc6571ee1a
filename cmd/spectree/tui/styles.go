// Package tui implements spectree's interactive run view, grounded on
// codenerd's cmd/nerd/ui package: a lipgloss Styles bundle plus a
// Bubble Tea model, trimmed to the one page an orchestration run needs
// (a live phase/item progress table) instead of the teacher's full
// multi-page chat shell.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#6b7280")
	colorSuccess = lipgloss.Color("#8BC34A")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
	colorBorder  = lipgloss.Color("#2a3850")
)

// Styles bundles the lipgloss styles the run view renders with.
type Styles struct {
	Header  lipgloss.Style
	Footer  lipgloss.Style
	Row     lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
}

// DefaultStyles returns spectree's run-view styling.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(colorAccent).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(colorBorder),
		Footer:  lipgloss.NewStyle().Foreground(colorMuted),
		Row:     lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Success: lipgloss.NewStyle().Foreground(colorSuccess),
		Error:   lipgloss.NewStyle().Foreground(colorError),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Info:    lipgloss.NewStyle().Foreground(colorInfo),
	}
}
