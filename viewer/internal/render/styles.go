package render

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	mutedColor   = lipgloss.Color("#6C757D")
	accentColor  = lipgloss.Color("#FFE66D")
	keyColor     = lipgloss.Color("#4ECDC4")
	successColor = lipgloss.Color("#2ECC71")
	errorColor   = lipgloss.Color("#E74C3C")
)

// styles holds the styles bound to one output's renderer.
type styles struct {
	header   lipgloss.Style
	location lipgloss.Style
	expr     lipgloss.Style
	value    lipgloss.Style
	up       lipgloss.Style
	down     lipgloss.Style
	failure  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:   r.NewStyle().Foreground(mutedColor),
		location: r.NewStyle().Foreground(accentColor),
		expr:     r.NewStyle().Foreground(keyColor).Bold(true),
		value:    r.NewStyle(),
		up:       r.NewStyle().Foreground(successColor).Bold(true),
		down:     r.NewStyle().Foreground(errorColor).Bold(true),
		failure:  r.NewStyle().Foreground(errorColor),
	}
}
