// Package summary renders the end-of-run report as markdown through glamour.
package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nn-dashboard/trainwatch/internal/monitor"
	"github.com/nn-dashboard/trainwatch/internal/theme"
)

// Report is what the summary overlay shows about a finished run.
type Report struct {
	TrainingID string
	ModelName  string
	State      monitor.State
	Session    monitor.Session
	Metrics    map[string]any
	Error      string
}

const maxMissingRanges = 12

var summaryMetrics = []struct {
	name  string
	label string
}{
	{"R2", "R²"},
	{"MAE", "MAE"},
	{"MSE", "MSE"},
	{"RMSE", "RMSE"},
	{"Accuracy", "Accuracy"},
}

// Markdown builds the report document.
func Markdown(r Report) string {
	var b strings.Builder

	b.WriteString("# Training summary\n\n")
	fmt.Fprintf(&b, "- **Run:** `%s`\n", r.TrainingID)
	if r.ModelName != "" {
		fmt.Fprintf(&b, "- **Model:** %s\n", r.ModelName)
	}
	fmt.Fprintf(&b, "- **Outcome:** %s\n", r.State)
	if r.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", r.Error)
	}

	epochs := r.Session.Epochs()
	fmt.Fprintf(&b, "- **Epochs received:** %d", len(epochs))
	if r.Session.TotalEpochs > 0 {
		fmt.Fprintf(&b, " of %d", r.Session.TotalEpochs)
	}
	b.WriteString("\n")
	if missing := r.Session.MissingRanges(); len(missing) > 0 {
		fmt.Fprintf(&b, "- **Missing epochs:** %s\n", monitor.FormatRanges(missing, maxMissingRanges))
	}

	if len(r.Metrics) > 0 {
		b.WriteString("\n## Final metrics\n\n| Metric | Value |\n|---|---|\n")
		known := map[string]bool{}
		for _, m := range summaryMetrics {
			if _, ok := monitor.LookupMetric(r.Metrics, m.name); ok {
				fmt.Fprintf(&b, "| %s | %s |\n", m.label, monitor.FormatMetric(r.Metrics, m.name))
			}
			for _, alias := range aliasesOf(r.Metrics, m.name) {
				known[alias] = true
			}
		}

		var extra []string
		for k := range r.Metrics {
			if !known[k] {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		for _, k := range extra {
			fmt.Fprintf(&b, "| %s | %v |\n", k, r.Metrics[k])
		}
	}

	return b.String()
}

// aliasesOf returns the keys of metrics that LookupMetric would resolve for name.
func aliasesOf(metrics map[string]any, name string) []string {
	var out []string
	for k := range metrics {
		if _, ok := monitor.LookupMetric(map[string]any{k: metrics[k]}, name); ok {
			out = append(out, k)
		}
	}
	return out
}

// Render turns markdown into styled terminal output wrapped to width. If
// glamour fails the raw markdown is returned.
func Render(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// View renders the report as an overlay panel.
func View(r Report, width int) string {
	innerW := width - 6
	if innerW < 30 {
		innerW = 30
	}
	help := theme.StyleDimmed.Render("esc:close  r:restart  q:quit")
	content := lipgloss.JoinVertical(lipgloss.Left, strings.TrimRight(Render(Markdown(r), innerW), "\n"), help)
	return lipgloss.NewStyle().
		Width(innerW).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
