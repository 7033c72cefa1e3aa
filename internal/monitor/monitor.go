// Package monitor follows the progress of a single neural-network training
// run over its event stream. It deduplicates epoch reports, reconnects with
// bounded linear backoff and drives an injected Renderer plus the caller's
// progress, completion and error hooks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nn-dashboard/trainwatch/internal/config"
	"github.com/nn-dashboard/trainwatch/internal/metrics"
	"github.com/nn-dashboard/trainwatch/internal/stream"
)

var errStalled = errors.New("no events within liveness timeout")

// maxGapRanges bounds the "Epochs not received" line.
const maxGapRanges = 20

// Options configures a Monitor.
type Options struct {
	BaseURL string
	Path    string
	Policy  Policy

	// GapQuietPeriod is how long epoch activity must pause before missing
	// epochs are reported.
	GapQuietPeriod time.Duration
	// HeartbeatGapThreshold is how many epochs a heartbeat may report beyond
	// those received before the stream is reopened.
	HeartbeatGapThreshold int
	ResyncCooldown        time.Duration
	// CompletionGrace delays teardown after a complete event so trailing
	// messages still render.
	CompletionGrace time.Duration
	// LivenessTimeout treats a silent stream as lost. Zero disables it.
	LivenessTimeout time.Duration
	DebugPrefixes   []string

	OnProgress func(ProgressPayload)
	OnComplete func(CompletePayload)
	OnError    func(ErrorPayload)

	Clock Clock
}

func DefaultOptions() Options {
	return Options{
		Path:                  config.DefaultMonitorPath,
		Policy:                DefaultPolicy(),
		GapQuietPeriod:        5 * time.Second,
		HeartbeatGapThreshold: 2,
		ResyncCooldown:        15 * time.Second,
		CompletionGrace:       2 * time.Second,
		LivenessTimeout:       30 * time.Second,
		DebugPrefixes:         []string{"DEBUG", "[DEBUG]"},
	}
}

// OptionsFromConfig builds Options from the monitor section of the config file.
func OptionsFromConfig(c config.MonitorConfig) Options {
	return Options{
		BaseURL: c.BaseURL,
		Path:    c.Path,
		Policy: Policy{
			MaxAttempts: c.MaxAttempts,
			Step:        c.ReconnectStep,
			MaxDelay:    c.ReconnectMaxDelay,
		},
		GapQuietPeriod:        c.GapQuietPeriod,
		HeartbeatGapThreshold: c.HeartbeatGapThreshold,
		ResyncCooldown:        c.ResyncCooldown,
		CompletionGrace:       c.CompletionGrace,
		LivenessTimeout:       c.LivenessTimeout,
		DebugPrefixes:         c.DebugPrefixes,
	}
}

// Monitor owns one event-stream subscription for one training run.
//
// Transport callbacks and timers may fire on any goroutine; they are
// serialised by mu. Renderer calls are queued while mu is held and replayed
// in order under emitMu, and the caller's hooks run after both locks are
// released, so hooks may call Start or Stop.
type Monitor struct {
	opts      Options
	transport stream.Transport
	renderer  Renderer
	clock     Clock
	url       string

	mu       sync.Mutex
	session  *Session
	state    State
	conn     stream.Conn
	gen      uint64
	failures int
	// lastEventID is sent as Last-Event-ID when the stream is reopened.
	lastEventID string

	reconnectTimer Timer
	gapTimer       Timer
	livenessTimer  Timer
	teardownTimer  Timer
	lastResync     time.Time

	effects   []func()
	callbacks []func()
	emitMu    sync.Mutex
}

func New(session *Session, transport stream.Transport, renderer Renderer, opts Options) *Monitor {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Path == "" {
		opts.Path = config.DefaultMonitorPath
	}
	if opts.Policy.MaxAttempts <= 0 || opts.Policy.Step <= 0 {
		opts.Policy = DefaultPolicy()
	}
	if opts.GapQuietPeriod <= 0 {
		opts.GapQuietPeriod = 5 * time.Second
	}
	return &Monitor{
		opts:      opts,
		transport: transport,
		renderer:  renderer,
		clock:     opts.Clock,
		url:       StreamURL(opts.BaseURL, opts.Path, session.TrainingID),
		session:   session,
	}
}

// StreamURL builds <base><path>?training_id=<id>.
func StreamURL(base, path, trainingID string) string {
	return strings.TrimRight(base, "/") + path + "?training_id=" + url.QueryEscape(trainingID)
}

// Start opens the stream, closing any connection already open, and resets
// the reconnect counter. It does nothing once the run has finished.
func (m *Monitor) Start() {
	m.run(func() {
		if m.session.Status.Finished() {
			m.logf(LevelInfo, "Training %s already finished; start a new run to monitor again", m.session.TrainingID)
			return
		}
		m.failures = 0
		m.cancelTimer(&m.reconnectTimer)
		m.cancelTimer(&m.teardownTimer)
		m.connect(fmt.Sprintf("Connecting to training %s...", m.session.TrainingID))
	})
}

// Stop closes the stream and cancels every pending timer. It is safe to
// call repeatedly and makes no renderer calls.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown()
	m.state = Idle
}

// State returns the current state machine position.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the session.
func (m *Monitor) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// URL is the stream address this monitor subscribes to.
func (m *Monitor) URL() string {
	return m.url
}

// run executes fn under the state lock, then flushes queued renderer calls
// and hooks.
func (m *Monitor) run(fn func()) {
	m.mu.Lock()
	fn()
	effects, callbacks := m.effects, m.callbacks
	m.effects, m.callbacks = nil, nil
	m.emitMu.Lock()
	m.mu.Unlock()

	for _, f := range effects {
		f()
	}
	m.emitMu.Unlock()

	for _, f := range callbacks {
		f()
	}
}

func (m *Monitor) emit(f func()) {
	m.effects = append(m.effects, f)
}

func (m *Monitor) callback(f func()) {
	m.callbacks = append(m.callbacks, f)
}

func (m *Monitor) logEntry(e LogEntry) {
	if e.Level == "" {
		e.Level = LevelInfo
	}
	m.emit(func() { m.renderer.AppendLog(e) })
}

func (m *Monitor) logf(level Level, format string, args ...any) {
	m.logEntry(LogEntry{Time: m.clock.Now(), Level: level, Message: fmt.Sprintf(format, args...)})
}

func (m *Monitor) setState(s State, text string) {
	m.state = s
	metrics.StateTransitions.WithLabelValues(s.String()).Inc()
	u := StatusUpdate{State: s, Status: m.session.Status, Text: text}
	m.emit(func() { m.renderer.SetStatus(u) })
}

// connect replaces the current connection with a fresh one. Caller holds mu.
func (m *Monitor) connect(text string) {
	m.closeConn()
	m.gen++
	m.session.Status = StatusConnecting
	m.setState(Connecting, "Connecting...")
	m.logf(LevelInfo, "%s", text)
	log.Printf("monitor: opening %s (attempt after %d failures)", m.url, m.failures)
	req := stream.Request{URL: m.url, LastEventID: m.lastEventID}
	m.conn = m.transport.Open(context.Background(), req, &connHandler{m: m, gen: m.gen})
}

func (m *Monitor) closeConn() {
	m.cancelTimer(&m.livenessTimer)
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// shutdown tears down the connection and every timer. Caller holds mu.
func (m *Monitor) shutdown() {
	m.closeConn()
	m.gen++
	m.cancelTimer(&m.reconnectTimer)
	m.cancelTimer(&m.gapTimer)
	m.cancelTimer(&m.teardownTimer)
}

// schedule arms a timer stored in slot, replacing any previous one. A timer
// that fires after being cancelled or replaced does nothing.
func (m *Monitor) schedule(slot *Timer, d time.Duration, fn func()) {
	m.cancelTimer(slot)
	var t Timer
	t = m.clock.AfterFunc(d, func() {
		m.run(func() {
			if *slot != t {
				return
			}
			*slot = nil
			fn()
		})
	})
	*slot = t
}

func (m *Monitor) cancelTimer(slot *Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

// connHandler binds transport callbacks to the connection generation that
// opened them, so a superseded connection cannot touch the monitor.
type connHandler struct {
	m   *Monitor
	gen uint64
}

func (h *connHandler) current() bool {
	return h.m.gen == h.gen && h.m.conn != nil
}

func (h *connHandler) OnOpen() {
	h.m.run(func() {
		if h.current() {
			h.m.handleOpen()
		}
	})
}

func (h *connHandler) OnEvent(ev stream.Event) {
	h.m.run(func() {
		if h.current() {
			h.m.handleEvent(ev)
		}
	})
}

func (h *connHandler) OnError(err error) {
	h.m.run(func() {
		if h.current() {
			h.m.handleTransportError(err)
		}
	})
}

func (m *Monitor) handleOpen() {
	m.failures = 0
	m.session.Status = StatusActive
	m.setState(Active, "Connected - training in progress")
	m.armLiveness()
}

func (m *Monitor) armLiveness() {
	if m.opts.LivenessTimeout <= 0 || m.conn == nil {
		return
	}
	m.schedule(&m.livenessTimer, m.opts.LivenessTimeout, func() {
		m.logf(LevelWarning, "No events for %s; connection presumed lost", m.opts.LivenessTimeout)
		m.handleTransportError(errStalled)
	})
}

func (m *Monitor) handleTransportError(err error) {
	m.closeConn()
	if m.state.Terminal() || m.session.Status.Finished() {
		return
	}

	m.failures++
	log.Printf("monitor: stream error for %s: %v (failure %d/%d)", m.session.TrainingID, err, m.failures, m.opts.Policy.MaxAttempts)

	if m.opts.Policy.Exhausted(m.failures) {
		m.cancelTimer(&m.reconnectTimer)
		m.cancelTimer(&m.gapTimer)
		m.session.Status = StatusError
		m.setState(Failed, "Disconnected")
		m.logf(LevelError, "Lost connection to the training stream after %d attempts. Reload to resume monitoring.", m.failures)
		return
	}

	delay := m.opts.Policy.Delay(m.failures)
	metrics.ReconnectAttempts.Inc()
	m.setState(Reconnecting, fmt.Sprintf("Connection error - retrying (%d/%d)", m.failures, m.opts.Policy.MaxAttempts))
	m.logf(LevelWarning, "Connection error; reconnecting in %s", delay)
	m.schedule(&m.reconnectTimer, delay, func() {
		m.connect(fmt.Sprintf("Reconnecting to training %s...", m.session.TrainingID))
	})
}

func (m *Monitor) handleEvent(ev stream.Event) {
	m.armLiveness()
	if ev.ID != "" {
		m.lastEventID = ev.ID
	}

	kind := Kind(ev.Name)
	if ev.Name == stream.DefaultEventName {
		k, err := payloadType(ev.Data)
		if err != nil {
			m.malformed(kind, err)
			return
		}
		kind = k
	}
	metrics.EventsReceived.WithLabelValues(string(kind)).Inc()

	switch kind {
	case KindLog:
		m.handleLog(ev.Data)
	case KindEpoch:
		m.handleEpoch(ev.Data)
	case KindProgress:
		m.handleProgress(ev.Data)
	case KindBatchProgress:
		m.handleBatchProgress(ev.Data)
	case KindHeartbeat:
		m.handleHeartbeat(ev.Data)
	case KindComplete:
		m.handleComplete(ev.Data)
	case KindError:
		m.handleServerError(ev.Data)
	case KindClose:
		m.handleClose(ev.Data)
	default:
		log.Printf("monitor: ignoring %q event", kind)
	}
}

func (m *Monitor) malformed(kind Kind, err error) {
	metrics.ParseErrors.WithLabelValues(string(kind)).Inc()
	log.Printf("monitor: %v", err)
	m.logf(LevelWarning, "Discarded malformed %s event", kind)
}

func (m *Monitor) isDebug(msg string) bool {
	for _, prefix := range m.opts.DebugPrefixes {
		if prefix != "" && strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func (m *Monitor) handleLog(data string) {
	var p LogPayload
	if err := decode(KindLog, data, &p); err != nil {
		m.malformed(KindLog, err)
		return
	}
	if m.isDebug(p.Message) {
		return
	}
	if p.flaggedEpoch() {
		if info, ok := resolveEpoch(p); ok {
			m.applyEpoch(p, info)
			return
		}
	} else if _, _, ok := ParseEpochMessage(p.Message); ok {
		if info, ok := resolveEpoch(p); ok {
			m.applyEpoch(p, info)
			return
		}
	}
	m.logEntry(LogEntry{Time: m.clock.Now(), Level: p.Level, Message: p.Message})
}

func (m *Monitor) handleEpoch(data string) {
	var p LogPayload
	if err := decode(KindEpoch, data, &p); err != nil {
		m.malformed(KindEpoch, err)
		return
	}
	if m.isDebug(p.Message) {
		return
	}
	info, ok := resolveEpoch(p)
	if !ok {
		m.logEntry(LogEntry{Time: m.clock.Now(), Level: p.Level, Message: p.Message})
		return
	}
	m.applyEpoch(p, info)
}

// applyEpoch is the single path for epoch reports from both log and epoch
// events. New epochs append a log block; authoritative resends replace it;
// other duplicates only refresh the counters.
func (m *Monitor) applyEpoch(p LogPayload, info epochInfo) {
	s := m.session
	total := s.TotalEpochs
	if info.Total > 0 {
		total = info.Total
	}
	if total > 0 && info.Epoch > total {
		metrics.ParseErrors.WithLabelValues("epoch_range").Inc()
		log.Printf("monitor: epoch %d beyond total %d for %s", info.Epoch, total, s.TrainingID)
		m.logf(LevelWarning, "Ignored report for epoch %d of %d", info.Epoch, total)
		return
	}
	if info.Total > 0 {
		s.TotalEpochs = info.Total
	}
	if info.Epoch > s.LastEpochReceived {
		s.LastEpochReceived = info.Epoch
	}

	entry := LogEntry{
		Time:    m.clock.Now(),
		Level:   p.Level,
		Message: epochMessage(p.Message, info),
		Epoch:   info.Epoch,
	}

	accepted := true
	switch {
	case !s.Processed(info.Epoch):
		s.ProcessedEpochs[info.Epoch] = struct{}{}
		m.logEntry(entry)
	case p.FromSpecializedCache:
		metrics.ReplacedEpochs.Inc()
		m.emit(func() { m.renderer.ReplaceEpochLog(entry.Epoch, entry) })
	default:
		metrics.DuplicateEpochs.Inc()
		accepted = false
	}

	m.refreshEpochIndicators()
	if !accepted {
		return
	}
	if info.Loss != nil || info.ValLoss != nil {
		train, val := info.Loss, info.ValLoss
		m.emit(func() { m.renderer.SetLoss(train, val) })
	}
	m.schedule(&m.gapTimer, m.opts.GapQuietPeriod, m.checkGaps)
}

func epochMessage(msg string, info epochInfo) string {
	if msg != "" {
		return msg
	}
	var b strings.Builder
	if info.Total > 0 {
		fmt.Fprintf(&b, "Epoch %d/%d", info.Epoch, info.Total)
	} else {
		fmt.Fprintf(&b, "Epoch %d", info.Epoch)
	}
	if info.Loss != nil {
		fmt.Fprintf(&b, " - loss: %.4f", *info.Loss)
	}
	if info.ValLoss != nil {
		fmt.Fprintf(&b, " - val_loss: %.4f", *info.ValLoss)
	}
	return b.String()
}

// refreshEpochIndicators shows the highest epoch seen, so a late
// out-of-order report never moves the bar backwards.
func (m *Monitor) refreshEpochIndicators() {
	current, total := m.session.LastEpochReceived, m.session.TotalEpochs
	m.emit(func() { m.renderer.SetEpochCounter(current, total) })
	if pct, ok := percentOf(current, total); ok {
		m.emit(func() { m.renderer.SetProgress(pct) })
	}
}

func (m *Monitor) checkGaps() {
	missing := m.session.MissingRanges()
	if len(missing) == 0 {
		return
	}
	m.logf(LevelInfo, "Epochs not received: %s", FormatRanges(missing, maxGapRanges))
}

// flushGapCheck runs a pending gap check now instead of after the quiet period.
func (m *Monitor) flushGapCheck() {
	if m.gapTimer == nil {
		return
	}
	m.cancelTimer(&m.gapTimer)
	m.checkGaps()
}

func (m *Monitor) handleProgress(data string) {
	var p ProgressPayload
	if err := decode(KindProgress, data, &p); err != nil {
		m.malformed(KindProgress, err)
		return
	}
	if p.TotalEpochs > 0 {
		m.session.TotalEpochs = p.TotalEpochs
	}
	epoch, total := p.Epoch, m.session.TotalEpochs
	m.emit(func() { m.renderer.SetEpochCounter(epoch, total) })
	if pct, ok := p.Percent(); ok {
		m.emit(func() { m.renderer.SetProgress(pct) })
	}
	if p.RemainingTime != "" {
		m.emit(func() { m.renderer.SetRemainingTime(p.RemainingTime) })
	}
	if p.TrainLoss != nil || p.ValLoss != nil {
		m.emit(func() { m.renderer.SetLoss(p.TrainLoss, p.ValLoss) })
	}
	if hook := m.opts.OnProgress; hook != nil {
		m.callback(func() { hook(p) })
	}
}

func (m *Monitor) handleBatchProgress(data string) {
	var p BatchProgressPayload
	if err := decode(KindBatchProgress, data, &p); err != nil {
		m.malformed(KindBatchProgress, err)
		return
	}
	if p.Loss != nil {
		m.emit(func() { m.renderer.SetLoss(p.Loss, nil) })
	}
	if p.Epoch == nil {
		return
	}
	epoch, total := *p.Epoch, m.session.TotalEpochs
	if p.TotalEpochs != nil && *p.TotalEpochs > 0 {
		total = *p.TotalEpochs
	}
	m.emit(func() { m.renderer.SetEpochCounter(epoch, total) })
	if pct, ok := percentOf(epoch, total); ok {
		m.emit(func() { m.renderer.SetProgress(pct) })
	}
}

func (m *Monitor) handleHeartbeat(data string) {
	var p HeartbeatPayload
	if err := decode(KindHeartbeat, data, &p); err != nil {
		m.malformed(KindHeartbeat, err)
		return
	}
	if p.Stats == nil || m.state != Active {
		return
	}

	received := len(m.session.ProcessedEpochs)
	gap := p.Stats.TotalEpochs - received
	if gap <= m.opts.HeartbeatGapThreshold {
		return
	}
	now := m.clock.Now()
	if !m.lastResync.IsZero() && now.Sub(m.lastResync) < m.opts.ResyncCooldown {
		return
	}
	m.lastResync = now
	metrics.Resyncs.Inc()
	m.logf(LevelInfo, "Server reports %d epochs, %d received; resynchronising stream", p.Stats.TotalEpochs, received)
	m.connect(fmt.Sprintf("Resynchronising training %s...", m.session.TrainingID))
}

func (m *Monitor) handleComplete(data string) {
	var p CompletePayload
	if err := decode(KindComplete, data, &p); err != nil {
		m.malformed(KindComplete, err)
		return
	}
	if m.session.Status == StatusCompleted {
		return
	}

	m.session.Status = StatusCompleted
	m.cancelTimer(&m.reconnectTimer)
	m.flushGapCheck()
	m.setState(Completed, "Completed")
	m.logf(LevelSuccess, "Training completed successfully")
	m.logMetricsSummary(p.FinalMetrics())
	m.logf(LevelSuccess, "The model has been saved and is ready to use.")
	m.emit(func() {
		m.renderer.SetProgress(100)
		m.renderer.MarkFinished(true)
	})
	if hook := m.opts.OnComplete; hook != nil {
		m.callback(func() { hook(p) })
	}

	m.schedule(&m.teardownTimer, m.opts.CompletionGrace, func() {
		m.shutdown()
	})
}

func (m *Monitor) logMetricsSummary(final map[string]any) {
	if len(final) == 0 {
		return
	}
	m.logf(LevelInfo, "Metrics summary:")
	m.logf(LevelInfo, "  • R²: %s", FormatMetric(final, "R2"))
	m.logf(LevelInfo, "  • MAE: %s", FormatMetric(final, "MAE"))
	m.logf(LevelInfo, "  • Accuracy: %s", FormatMetric(final, "Accuracy"))
}

var metricFormats = map[string]struct {
	format string
	scale  float64
}{
	"R2":       {"%.4f", 1},
	"MAE":      {"%.2f", 1},
	"MSE":      {"%.4f", 1},
	"RMSE":     {"%.4f", 1},
	"Accuracy": {"%.2f%%", 100},
}

// FormatMetric renders a summary metric for display, or "N/A" when absent.
func FormatMetric(final map[string]any, name string) string {
	v, ok := LookupMetric(final, name)
	if !ok {
		return "N/A"
	}
	f, ok := metricFormats[name]
	if !ok {
		return fmt.Sprintf("%.4f", v)
	}
	return fmt.Sprintf(f.format, v*f.scale)
}

func (m *Monitor) handleServerError(data string) {
	var p ErrorPayload
	if err := decode(KindError, data, &p); err != nil {
		m.malformed(KindError, err)
		return
	}
	if p.Message == "" {
		p.Message = "training failed"
	}
	if m.session.Status.Finished() || m.state.Terminal() {
		log.Printf("monitor: ignoring error for finished training %s: %s", m.session.TrainingID, p.Message)
		m.shutdown()
		return
	}

	m.session.Status = StatusError
	m.logf(LevelError, "Error: %s", p.Message)
	m.setState(Failed, "Error")
	m.emit(func() { m.renderer.MarkFinished(false) })
	if hook := m.opts.OnError; hook != nil {
		m.callback(func() { hook(p) })
	}
	m.shutdown()
}

var cleanFinishMarkers = []string{"complet", "finish", "finaliz", "success", "exitos"}

// CleanFinish reports whether a close message announces a normal end of training.
func CleanFinish(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range cleanFinishMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (m *Monitor) handleClose(data string) {
	var p ClosePayload
	if err := decode(KindClose, data, &p); err != nil {
		m.malformed(KindClose, err)
		return
	}

	switch {
	case m.session.Status.Finished() || m.state.Terminal():
		// Already reported; only the teardown is left.
	case CleanFinish(p.Message):
		// close carries no metrics, so OnComplete is not called. The
		// shutdown below also drops any complete event still in flight.
		m.session.Status = StatusCompleted
		m.flushGapCheck()
		m.setState(Completed, "Completed")
		m.logf(LevelSuccess, "%s", p.Message)
		m.emit(func() {
			m.renderer.SetProgress(100)
			m.renderer.MarkFinished(true)
		})
	default:
		m.session.Status = StatusClosed
		m.setState(Closed, "Closed by server")
		msg := p.Message
		if msg == "" {
			msg = "no reason given"
		}
		m.logf(LevelInfo, "Stream closed by server: %s", msg)
	}
	m.shutdown()
}
