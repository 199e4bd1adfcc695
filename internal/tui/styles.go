package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// VeriVox palette (256-colour terminal codes).
const (
	colorAccent  = lipgloss.Color("44")  // teal
	colorInk     = lipgloss.Color("255") // near white
	colorMuted   = lipgloss.Color("244")
	colorFrame   = lipgloss.Color("60") // slate violet
	colorHuman   = lipgloss.Color("42")
	colorCaution = lipgloss.Color("214")
	colorAI      = lipgloss.Color("203")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("16")).
			Background(colorAccent).
			Bold(true).
			Padding(0, 1)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFrame).
			Padding(1, 2)

	sectionStyle = fg(colorAccent).Bold(true).MarginTop(1)
	labelStyle   = fg(colorAccent)
	valueStyle   = fg(colorInk).Bold(true)
	dimStyle     = fg(colorMuted)

	// verdict colours, also used for notices and the dashboard counts
	humanStyle     = fg(colorHuman).Bold(true)
	warningStyle   = fg(colorCaution).Bold(true)
	syntheticStyle = fg(colorAI).Bold(true)

	sparklineStyle = fg(colorAccent)

	userBubbleStyle      = fg(colorAccent).Bold(true)
	assistantBubbleStyle = fg(colorInk)

	footerStyle    = dimStyle.MarginTop(1)
	footerKeyStyle = fg(colorAccent).Bold(true)
)

// footer renders key hints from alternating key and description arguments.
func footer(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteString(dimStyle.Render("  •  "))
		}
		b.WriteString(footerKeyStyle.Render(pairs[i]) + " " + pairs[i+1])
	}
	return footerStyle.Render(b.String())
}
