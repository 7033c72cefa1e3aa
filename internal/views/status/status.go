package status

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nn-dashboard/trainwatch/internal/monitor"
	"github.com/nn-dashboard/trainwatch/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	TrainingID string
	Transport  string
	Update     monitor.StatusUpdate
	// Finished is set once the run ends; Success picks the final glyph.
	Finished bool
	Success  bool
	Width    int
}

func New(trainingID, transport string) Model {
	return Model{
		TrainingID: trainingID,
		Transport:  transport,
		Update: monitor.StatusUpdate{
			State:  monitor.Idle,
			Status: monitor.StatusConnecting,
			Text:   "Waiting to connect",
		},
	}
}

// View renders the status bar. spinner is shown in front of the state while
// the run is still in progress.
func (m Model) View(spinner string) string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	state := m.Update.State.String()
	color := theme.StateColor(state)

	glyph := spinner
	switch {
	case m.Finished && m.Success:
		glyph = lipgloss.NewStyle().Foreground(theme.ColorSuccess).Render("✓")
	case m.Finished:
		glyph = lipgloss.NewStyle().Foreground(theme.ColorError).Render("✗")
	case glyph == "":
		glyph = lipgloss.NewStyle().Foreground(color).Render(theme.StateGlyph(state))
	}

	stateStr := lipgloss.NewStyle().Foreground(color).Bold(true).Render(state)
	text := m.Update.Text
	if text == "" {
		text = string(m.Update.Status)
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := glyph + " " + stateStr + sep + text
	if m.TrainingID != "" {
		content += sep + theme.StyleDimmed.Render("run "+m.TrainingID)
	}
	if m.Transport != "" {
		content += sep + theme.StyleDimmed.Render(m.Transport)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
