// Package gauge renders training progress: an epoch counter, a spring
// animated progress bar, the remaining time and the latest losses.
package gauge

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/nn-dashboard/trainwatch/internal/theme"
)

const fps = 60

// FrameMsg advances the bar animation by one frame.
type FrameMsg struct{}

type Model struct {
	Epoch     int
	Total     int
	Remaining string
	TrainLoss *float64
	ValLoss   *float64
	Width     int

	bar       progress.Model
	spring    harmonica.Spring
	target    float64
	pos       float64
	vel       float64
	animating bool
}

func New() Model {
	return Model{
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 1.0),
	}
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg {
		return FrameMsg{}
	})
}

// SetPercent moves the target of the bar, clamped to [0, 100]. The returned
// command starts the animation if it is not already running.
func (m *Model) SetPercent(p float64) tea.Cmd {
	m.target = math.Max(0, math.Min(100, p))
	if m.animating {
		return nil
	}
	m.animating = true
	return frame()
}

// Percent returns the latest target percentage.
func (m Model) Percent() float64 {
	return m.target
}

// Update steps the spring on FrameMsg and keeps ticking until it settles.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	if _, ok := msg.(FrameMsg); !ok {
		return nil
	}
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target)
	if math.Abs(m.pos-m.target) < 0.05 && math.Abs(m.vel) < 0.05 {
		m.pos, m.vel = m.target, 0
		m.animating = false
		return nil
	}
	return frame()
}

// View renders the gauge panel.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	m.bar.Width = width - 6

	counter := "Epoch -/-"
	if m.Total > 0 {
		counter = fmt.Sprintf("Epoch %d/%d", m.Epoch, m.Total)
	}
	header := []string{
		theme.StyleHeader.Render(counter),
		lipgloss.NewStyle().Foreground(theme.ColorBright).Render(fmt.Sprintf("%3.0f%%", m.target)),
	}
	if m.Remaining != "" {
		header = append(header, theme.StyleDimmed.Render("remaining "+m.Remaining))
	}

	var losses []string
	if m.TrainLoss != nil {
		losses = append(losses, lipgloss.NewStyle().Foreground(theme.ColorTrainLoss).Render(fmt.Sprintf("loss %.4f", *m.TrainLoss)))
	}
	if m.ValLoss != nil {
		losses = append(losses, lipgloss.NewStyle().Foreground(theme.ColorValLoss).Render(fmt.Sprintf("val_loss %.4f", *m.ValLoss)))
	}
	if len(losses) == 0 {
		losses = append(losses, theme.StyleDimmed.Render("no loss reported yet"))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		strings.Join(header, "   "),
		m.bar.ViewAs(m.pos/100),
		strings.Join(losses, "   "),
	)
	return theme.StyleBorder.Width(width - 2).Padding(0, 1).Render(content)
}
