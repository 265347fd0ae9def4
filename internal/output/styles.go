package output

import "github.com/charmbracelet/lipgloss"

// Palette. A single lime accent with grays for secondary text.
const (
	ColorLime     = "154"
	ColorLimeDim  = "106"
	ColorWhite    = "255"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the text styles used by Writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style
	Title   lipgloss.Style
	URL     lipgloss.Style
	Score   lipgloss.Style
}

// DefaultStyles returns colored styles bound to r.
func DefaultStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: r.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: r.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   r.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     r.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:   r.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		URL:     r.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Score:   r.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:  plain,
		Success: plain,
		Warning: plain,
		Error:   plain,
		Dim:     plain,
		Label:   plain,
		Title:   plain,
		URL:     plain,
		Score:   plain,
	}
}
