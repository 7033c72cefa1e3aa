// Package lineout renders monitor output as plain lines for terminals and
// pipes, or as newline-delimited JSON records.
package lineout

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nn-dashboard/trainwatch/internal/monitor"
	"github.com/nn-dashboard/trainwatch/internal/theme"
)

// Record is one NDJSON line.
type Record struct {
	Type      string         `json:"type"`
	Time      *time.Time     `json:"time,omitempty"`
	Level     monitor.Level  `json:"level,omitempty"`
	Message   string         `json:"message,omitempty"`
	Epoch     int            `json:"epoch,omitempty"`
	State     *monitor.State `json:"state,omitempty"`
	Status    monitor.Status `json:"status,omitempty"`
	Percent   *float64       `json:"percent,omitempty"`
	Current   int            `json:"current,omitempty"`
	Total     int            `json:"total,omitempty"`
	Remaining string         `json:"remaining,omitempty"`
	Train     *float64       `json:"train_loss,omitempty"`
	Val       *float64       `json:"val_loss,omitempty"`
	Success   *bool          `json:"success,omitempty"`
}

// Printer is a monitor.Renderer writing to an io.Writer.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
	enc  *json.Encoder
	r    *lipgloss.Renderer

	lastEpoch int
	remaining string

	done     chan monitor.State
	doneOnce sync.Once
}

func New(w io.Writer, jsonMode bool) *Printer {
	return &Printer{
		w:    w,
		json: jsonMode,
		enc:  json.NewEncoder(w),
		r:    lipgloss.NewRenderer(w),
		done: make(chan monitor.State, 1),
	}
}

// Done yields the first terminal state the monitor reports.
func (p *Printer) Done() <-chan monitor.State {
	return p.done
}

func (p *Printer) write(rec Record) {
	p.enc.Encode(rec)
}

func (p *Printer) style(c lipgloss.Color) lipgloss.Style {
	return p.r.NewStyle().Foreground(c)
}

func (p *Printer) line(e monitor.LogEntry, marker string) string {
	ts := p.style(theme.ColorDimmed).Render(e.Time.Format("15:04:05"))
	if e.Epoch > 0 {
		return fmt.Sprintf("%s %s %s", ts, p.style(theme.ColorEpoch).Bold(true).Render(marker), e.Message)
	}
	color := theme.LevelColor(string(e.Level))
	tag := p.style(color).Render(fmt.Sprintf("%-4s", theme.LevelTag(string(e.Level))))
	return fmt.Sprintf("%s %s %s", ts, tag, p.style(color).Render(e.Message))
}

func (p *Printer) AppendLog(e monitor.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		t := e.Time
		p.write(Record{Type: "log", Time: &t, Level: e.Level, Message: e.Message, Epoch: e.Epoch})
		return
	}
	fmt.Fprintln(p.w, p.line(e, "▌"))
}

func (p *Printer) ReplaceEpochLog(epoch int, e monitor.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		t := e.Time
		p.write(Record{Type: "replace_epoch", Time: &t, Level: e.Level, Message: e.Message, Epoch: epoch})
		return
	}
	fmt.Fprintln(p.w, p.line(e, "↻"))
}

func (p *Printer) SetStatus(s monitor.StatusUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		state := s.State
		p.write(Record{Type: "status", State: &state, Status: s.Status, Message: s.Text})
	} else {
		name := s.State.String()
		head := p.style(theme.StateColor(name)).Bold(true).Render(theme.StateGlyph(name) + " " + name)
		fmt.Fprintf(p.w, "%s %s\n", head, s.Text)
	}

	if s.State.Terminal() {
		p.doneOnce.Do(func() { p.done <- s.State })
	}
}

func (p *Printer) SetProgress(percent float64) {
	if !p.json {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.write(Record{Type: "progress", Percent: &percent})
}

func (p *Printer) SetEpochCounter(current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		p.write(Record{Type: "epochs", Current: current, Total: total})
		return
	}
	if current == p.lastEpoch {
		return
	}
	p.lastEpoch = current
	line := fmt.Sprintf("  progress: epoch %d/%d", current, total)
	if p.remaining != "" {
		line += ", remaining " + p.remaining
	}
	fmt.Fprintln(p.w, p.style(theme.ColorDimmed).Render(line))
}

func (p *Printer) SetRemainingTime(remaining string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remaining = remaining
	if p.json {
		p.write(Record{Type: "remaining", Remaining: remaining})
	}
}

func (p *Printer) SetLoss(train, val *float64) {
	if !p.json {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.write(Record{Type: "loss", Train: train, Val: val})
}

func (p *Printer) MarkFinished(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		p.write(Record{Type: "finished", Success: &success})
		return
	}
	if success {
		fmt.Fprintln(p.w, p.style(theme.ColorSuccess).Render("✓ training finished"))
	} else {
		fmt.Fprintln(p.w, p.style(theme.ColorError).Render("✗ training failed"))
	}
}
