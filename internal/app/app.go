package app

import (
	"log"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nn-dashboard/trainwatch/internal/monitor"
	"github.com/nn-dashboard/trainwatch/internal/theme"
	"github.com/nn-dashboard/trainwatch/internal/views/gauge"
	"github.com/nn-dashboard/trainwatch/internal/views/logpane"
	"github.com/nn-dashboard/trainwatch/internal/views/losschart"
	"github.com/nn-dashboard/trainwatch/internal/views/status"
	"github.com/nn-dashboard/trainwatch/internal/views/summary"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlaySummary
)

// Controller is the part of monitor.Monitor the TUI drives.
type Controller interface {
	Start()
	Snapshot() monitor.Session
}

// startedMsg reports that a Start issued from a command has returned.
type startedMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	ctl        Controller
	trainingID string

	keys   KeyMap
	width  int
	height int

	overlay  Overlay
	finished bool
	report   summary.Report

	// Sub-views.
	statusBar status.Model
	gauge     gauge.Model
	logs      logpane.Model
	losses    losschart.Model
	spinner   spinner.Model
}

// New creates the root model for one training run.
func New(ctl Controller, trainingID, transport string) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorConnecting)

	return Model{
		ctl:        ctl,
		trainingID: trainingID,
		keys:       DefaultKeyMap(),
		report:     summary.Report{TrainingID: trainingID},
		statusBar:  status.New(trainingID, transport),
		gauge:      gauge.New(),
		logs:       logpane.New(),
		losses:     losschart.New(),
		spinner:    sp,
	}
}

// Init starts the monitor and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.start(), m.spinner.Tick)
}

// start runs Start off the update loop; the monitor may block on renderer
// delivery, which needs the loop running.
func (m Model) start() tea.Cmd {
	ctl := m.ctl
	if ctl == nil {
		return nil
	}
	return func() tea.Msg {
		ctl.Start()
		return startedMsg{}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.gauge.Width = msg.Width
		m.losses.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case gauge.FrameMsg:
		return m, m.gauge.Update(msg)

	case startedMsg:
		return m, nil

	case LogMsg:
		m.logs.Add(msg.Entry)
		m.recordLosses(msg.Entry)
		return m, nil

	case ReplaceEpochMsg:
		m.logs.ReplaceEpoch(msg.Epoch, msg.Entry)
		m.recordLosses(msg.Entry)
		return m, nil

	case StatusMsg:
		m.statusBar.Update = msg.Update
		m.report.State = msg.Update.State
		return m, nil

	case ProgressMsg:
		return m, m.gauge.SetPercent(msg.Percent)

	case EpochCounterMsg:
		m.gauge.Epoch = msg.Current
		m.gauge.Total = msg.Total
		return m, nil

	case RemainingMsg:
		m.gauge.Remaining = msg.Remaining
		return m, nil

	case LossMsg:
		if msg.Train != nil {
			m.gauge.TrainLoss = msg.Train
		}
		if msg.Val != nil {
			m.gauge.ValLoss = msg.Val
		}
		return m, nil

	case FinishedMsg:
		m.finished = true
		m.statusBar.Finished = true
		m.statusBar.Success = msg.Success
		if m.ctl != nil {
			m.report.Session = m.ctl.Snapshot()
		}
		return m, nil

	case CompleteMsg:
		m.report.ModelName = msg.Payload.ModelName
		m.report.Metrics = msg.Payload.FinalMetrics()
		m.overlay = OverlaySummary
		return m, nil

	case ErrorMsg:
		m.report.Error = msg.Payload.Message
		return m, nil
	}

	return m, nil
}

func (m *Model) recordLosses(e monitor.LogEntry) {
	if e.Epoch <= 0 {
		return
	}
	train, val := monitor.ParseLosses(e.Message)
	m.losses.Record(e.Epoch, train, val)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		if key.Matches(msg, m.keys.Escape) || key.Matches(msg, m.keys.Summary) {
			m.overlay = OverlayNone
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		m.logs.ScrollUp(1)
	case key.Matches(msg, m.keys.Down):
		m.logs.ScrollDown(1)
	case key.Matches(msg, m.keys.Top):
		m.logs.ScrollUp(len(m.logs.Entries))
	case key.Matches(msg, m.keys.Bottom):
		m.logs.ScrollDown(len(m.logs.Entries))
	case key.Matches(msg, m.keys.Summary):
		if m.finished {
			m.overlay = OverlaySummary
		}
	case key.Matches(msg, m.keys.Restart):
		// A run the server has finished cannot be reopened.
		if m.ctl == nil || m.ctl.Snapshot().Status.Finished() {
			return m, nil
		}
		log.Printf("tui: manual reconnect of %s", m.trainingID)
		m.finished = false
		m.statusBar.Finished = false
		return m, tea.Batch(m.start(), m.spinner.Tick)
	}
	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	spin := ""
	if !m.finished {
		spin = m.spinner.View()
	}
	header := lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar.View(spin),
		m.gauge.View(),
		m.losses.View(),
	)
	help := theme.StyleDimmed.Render("  j/k:scroll  g/G:oldest/newest  s:summary  r:reconnect  q:quit")

	if m.overlay == OverlaySummary {
		return lipgloss.JoinVertical(lipgloss.Left, header, summary.View(m.report, m.width))
	}

	logHeight := m.height - lipgloss.Height(header) - lipgloss.Height(help)
	return lipgloss.JoinVertical(lipgloss.Left, header, m.logs.View(m.width, logHeight), help)
}
