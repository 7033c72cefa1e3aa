package monitor

import "time"

// LogEntry is one line of the training log.
type LogEntry struct {
	Time    time.Time
	Level   Level
	Message string
	// Epoch is set for epoch report blocks, which renderers should display
	// distinctly and which ReplaceEpochLog may later overwrite.
	Epoch int
}

// StatusUpdate describes the connection indicator.
type StatusUpdate struct {
	State  State
	Status Status
	Text   string
}

// Renderer is every UI touch the monitor makes. Calls are serialised and
// never made while the monitor's state lock is held, but a Renderer must not
// call back into the Monitor synchronously.
type Renderer interface {
	AppendLog(entry LogEntry)
	// ReplaceEpochLog swaps the entry previously appended for epoch. If
	// there is none it appends.
	ReplaceEpochLog(epoch int, entry LogEntry)
	SetStatus(status StatusUpdate)
	SetProgress(percent float64)
	SetEpochCounter(current, total int)
	SetRemainingTime(remaining string)
	// SetLoss updates the loss readouts. A nil value leaves that readout alone.
	SetLoss(train, val *float64)
	// MarkFinished swaps the loading indicator for a success or failure one.
	MarkFinished(success bool)
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) AppendLog(LogEntry)            {}
func (NopRenderer) ReplaceEpochLog(int, LogEntry) {}
func (NopRenderer) SetStatus(StatusUpdate)        {}
func (NopRenderer) SetProgress(float64)           {}
func (NopRenderer) SetEpochCounter(int, int)      {}
func (NopRenderer) SetRemainingTime(string)       {}
func (NopRenderer) SetLoss(*float64, *float64)    {}
func (NopRenderer) MarkFinished(bool)             {}
