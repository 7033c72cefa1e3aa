// Package logpane provides the scrollable training log panel.
package logpane

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nn-dashboard/trainwatch/internal/monitor"
	"github.com/nn-dashboard/trainwatch/internal/theme"
)

const maxEntries = 500

// Model holds the log buffer and scroll position.
type Model struct {
	Entries []monitor.LogEntry
	Offset  int // scroll offset (from bottom)
}

func New() Model {
	return Model{}
}

// Add appends a log entry and caps the buffer.
func (m *Model) Add(e monitor.LogEntry) {
	m.Entries = append(m.Entries, e)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	// Reset scroll to bottom on new entry.
	m.Offset = 0
}

// ReplaceEpoch overwrites the most recent block for epoch in place, keeping
// its position in the log. Without one it appends.
func (m *Model) ReplaceEpoch(epoch int, e monitor.LogEntry) {
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].Epoch == epoch {
			m.Entries[i] = e
			return
		}
	}
	m.Add(e)
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	max := len(m.Entries) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func panelStyle(width int) lipgloss.Style {
	return theme.StyleBorder.
		Width(width).
		Padding(0, 1)
}

// View renders the log panel at the given outer size.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 4
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" TRAINING LOG ")

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  Waiting for the first log line...")
		content := lipgloss.JoinVertical(lipgloss.Left, title, body)
		return panelStyle(innerW).Render(content)
	}

	end := len(m.Entries) - m.Offset
	if end < 0 {
		end = 0
	}
	start := end - visibleLines
	if start < 0 {
		start = 0
	}

	var lines []string
	for i := start; i < end; i++ {
		lines = append(lines, renderEntry(m.Entries[i], innerW)...)
	}
	if len(lines) > visibleLines {
		lines = lines[len(lines)-visibleLines:]
	}

	footer := theme.StyleDimmed.Render(fmt.Sprintf("%d lines", len(m.Entries)))
	if m.Offset > 0 {
		footer = theme.StyleDimmed.Render(fmt.Sprintf("↓ %d more  ·  %d lines", m.Offset, len(m.Entries)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), footer)
	return panelStyle(innerW).Render(content)
}

// renderEntry formats one entry. Epoch blocks get a marker gutter on every
// line so multi-line reports stay visually grouped.
func renderEntry(e monitor.LogEntry, width int) []string {
	ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
	color := theme.LevelColor(string(e.Level))

	msgW := width - 15
	if msgW < 10 {
		msgW = 10
	}

	var out []string
	for i, line := range strings.Split(e.Message, "\n") {
		line = truncate(line, msgW)
		switch {
		case e.Epoch > 0:
			gutter := theme.StyleEpoch.Render("▌")
			if i == 0 {
				out = append(out, fmt.Sprintf("%s %s %s", ts, gutter, theme.StyleEpoch.Render(line)))
			} else {
				out = append(out, fmt.Sprintf("%8s %s %s", "", gutter, line))
			}
		case i == 0:
			tag := lipgloss.NewStyle().Foreground(color).Width(4).Render(theme.LevelTag(string(e.Level)))
			out = append(out, fmt.Sprintf("%s %s %s", ts, tag, lipgloss.NewStyle().Foreground(color).Render(line)))
		default:
			out = append(out, fmt.Sprintf("%13s %s", "", line))
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
