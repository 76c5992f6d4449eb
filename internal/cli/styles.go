package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ijg0341/vibe-review-sub000/internal/transcript"
)

var (
	colorDim = lipgloss.Color("240") // gray

	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // bright green
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // bright yellow
	styleSeq     = lipgloss.NewStyle().Foreground(colorDim).Width(6).Align(lipgloss.Right)
	styleCatCell = lipgloss.NewStyle().Width(15)

	categoryColors = map[transcript.Category]lipgloss.Color{
		transcript.CategoryUserText:      lipgloss.Color("12"),  // bright blue
		transcript.CategoryToolResult:    lipgloss.Color("14"),  // bright cyan
		transcript.CategoryAssistantText: lipgloss.Color("10"),  // bright green
		transcript.CategoryToolUse:       lipgloss.Color("13"),  // bright magenta
		transcript.CategoryThinking:      lipgloss.Color("11"),  // bright yellow
		transcript.CategoryOther:         lipgloss.Color("245"), // gray
	}
)

func categoryStyle(c transcript.Category) lipgloss.Style {
	color, ok := categoryColors[c]
	if !ok {
		color = colorDim
	}
	return styleCatCell.Foreground(color)
}

// subagentStyle colors a subagent badge with its configured hex color.
func subagentStyle(meta transcript.SubagentMeta) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	if meta.Color != "" {
		s = s.Foreground(lipgloss.Color(meta.Color))
	}
	return s
}
