package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nn-dashboard/trainwatch/internal/monitor"
)

// Messages delivered by Bridge. Each mirrors one monitor.Renderer call.
type (
	LogMsg          struct{ Entry monitor.LogEntry }
	ReplaceEpochMsg struct {
		Epoch int
		Entry monitor.LogEntry
	}
	StatusMsg       struct{ Update monitor.StatusUpdate }
	ProgressMsg     struct{ Percent float64 }
	EpochCounterMsg struct{ Current, Total int }
	RemainingMsg    struct{ Remaining string }
	LossMsg         struct{ Train, Val *float64 }
	FinishedMsg     struct{ Success bool }
	CompleteMsg     struct{ Payload monitor.CompletePayload }
	ErrorMsg        struct{ Payload monitor.ErrorPayload }
)

// Bridge is a monitor.Renderer that forwards every call to a running Bubble
// Tea program as a message. Messages sent before Attach are queued.
type Bridge struct {
	mu      sync.Mutex
	program *tea.Program
	pending []tea.Msg
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach connects the bridge to p and flushes anything queued.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, msg := range pending {
		p.Send(msg)
	}
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.program
	if p == nil {
		b.pending = append(b.pending, msg)
	}
	b.mu.Unlock()

	if p != nil {
		p.Send(msg)
	}
}

func (b *Bridge) AppendLog(entry monitor.LogEntry) { b.send(LogMsg{Entry: entry}) }

func (b *Bridge) ReplaceEpochLog(epoch int, entry monitor.LogEntry) {
	b.send(ReplaceEpochMsg{Epoch: epoch, Entry: entry})
}

func (b *Bridge) SetStatus(status monitor.StatusUpdate) { b.send(StatusMsg{Update: status}) }
func (b *Bridge) SetProgress(percent float64)           { b.send(ProgressMsg{Percent: percent}) }

func (b *Bridge) SetEpochCounter(current, total int) {
	b.send(EpochCounterMsg{Current: current, Total: total})
}

func (b *Bridge) SetRemainingTime(remaining string) { b.send(RemainingMsg{Remaining: remaining}) }
func (b *Bridge) SetLoss(train, val *float64)       { b.send(LossMsg{Train: train, Val: val}) }
func (b *Bridge) MarkFinished(success bool)         { b.send(FinishedMsg{Success: success}) }

// OnComplete and OnError plug into monitor.Options.
func (b *Bridge) OnComplete(p monitor.CompletePayload) { b.send(CompleteMsg{Payload: p}) }
func (b *Bridge) OnError(p monitor.ErrorPayload)       { b.send(ErrorMsg{Payload: p}) }
