package status

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	heading    lipgloss.Style
	session    lipgloss.Style
	detail     lipgloss.Style
	warning    lipgloss.Style
	section    lipgloss.Style
	empty      lipgloss.Style
	key        lipgloss.Style
	meta       lipgloss.Style
	barBracket lipgloss.Style
	barFill    lipgloss.Style
	barAlert   lipgloss.Style
	barEmpty   lipgloss.Style
	stateColor map[string]lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:      lipgloss.NewStyle().Bold(true),
		header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		heading:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		session:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		detail:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:    lipgloss.NewStyle().MarginTop(1),
		empty:      lipgloss.NewStyle().Faint(true),
		key:        lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		meta:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		barBracket: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		barFill:    lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		barAlert:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		barEmpty:   lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		stateColor: map[string]lipgloss.Style{
			"active":       lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
			"connecting":   lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
			"degraded":     lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
			"reconnecting": lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
			"terminated":   lipgloss.NewStyle().Faint(true),
		},
	}
}

func (s styles) state(name string) lipgloss.Style {
	if style, ok := s.stateColor[name]; ok {
		return style
	}
	return s.detail
}
