// Package losschart draws per-epoch train and validation loss as sparklines.
package losschart

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nn-dashboard/trainwatch/internal/theme"
)

var ticks = []rune("▁▂▃▄▅▆▇█")

type point struct {
	train *float64
	val   *float64
}

// Model keeps the loss history keyed by epoch.
type Model struct {
	points map[int]point
	Width  int
}

func New() Model {
	return Model{points: make(map[int]point)}
}

// Record stores the losses reported for epoch. A nil value keeps whatever
// was recorded before.
func (m *Model) Record(epoch int, train, val *float64) {
	if epoch <= 0 || (train == nil && val == nil) {
		return
	}
	p := m.points[epoch]
	if train != nil {
		v := *train
		p.train = &v
	}
	if val != nil {
		v := *val
		p.val = &v
	}
	m.points[epoch] = p
}

// Len returns the number of epochs with at least one loss.
func (m Model) Len() int {
	return len(m.points)
}

func (m Model) series(pick func(point) *float64) []float64 {
	epochs := make([]int, 0, len(m.points))
	for e := range m.points {
		epochs = append(epochs, e)
	}
	sort.Ints(epochs)

	out := make([]float64, 0, len(epochs))
	for _, e := range epochs {
		if v := pick(m.points[e]); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// Sparkline scales values onto block characters, keeping the last width.
func Sparkline(values []float64, width int) string {
	if width > 0 && len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return ""
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	var b strings.Builder
	for _, v := range values {
		i := 0
		if hi > lo {
			i = int((v - lo) / (hi - lo) * float64(len(ticks)-1))
		}
		b.WriteRune(ticks[i])
	}
	return b.String()
}

func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	sparkW := width - 24

	if len(m.points) == 0 {
		return theme.StyleBorder.Width(width - 2).Padding(0, 1).
			Render(theme.StyleDimmed.Render("Loss history appears after the first epoch"))
	}

	row := func(label string, color lipgloss.Color, values []float64) string {
		if len(values) == 0 {
			return fmt.Sprintf("%-9s %s", label, theme.StyleDimmed.Render("-"))
		}
		last := values[len(values)-1]
		return fmt.Sprintf("%-9s %s %s", label,
			lipgloss.NewStyle().Foreground(color).Render(Sparkline(values, sparkW)),
			theme.StyleDimmed.Render(fmt.Sprintf("%.4f", last)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		row("loss", theme.ColorTrainLoss, m.series(func(p point) *float64 { return p.train })),
		row("val_loss", theme.ColorValLoss, m.series(func(p point) *float64 { return p.val })),
	)
	return theme.StyleBorder.Width(width - 2).Padding(0, 1).Render(content)
}
