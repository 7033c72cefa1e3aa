package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nn-dashboard/trainwatch/internal/stream"
)

var errBoom = errors.New("boom")

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeConn struct {
	url         string
	lastEventID string
	h           stream.Handler
	closed      bool
}

func (c *fakeConn) Close() { c.closed = true }

func (c *fakeConn) open() { c.h.OnOpen() }

func (c *fakeConn) send(name, data string) {
	c.h.OnEvent(stream.Event{Name: name, Data: data})
}

func (c *fakeConn) sendID(id, name, data string) {
	c.h.OnEvent(stream.Event{ID: id, Name: name, Data: data})
}

func (c *fakeConn) fail() { c.h.OnError(errBoom) }

type fakeTransport struct {
	conns []*fakeConn
}

func (t *fakeTransport) Open(_ context.Context, req stream.Request, h stream.Handler) stream.Conn {
	c := &fakeConn{url: req.URL, lastEventID: req.LastEventID, h: h}
	t.conns = append(t.conns, c)
	return c
}

func (t *fakeTransport) last() *fakeConn {
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type recorder struct {
	mu        sync.Mutex
	logs      []LogEntry
	replaced  []LogEntry
	statuses  []StatusUpdate
	progress  []float64
	counters  [][2]int
	remaining []string
	train     *float64
	val       *float64
	finished  []bool
}

func (r *recorder) AppendLog(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, e)
}

func (r *recorder) ReplaceEpochLog(epoch int, e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced = append(r.replaced, e)
	for i := range r.logs {
		if r.logs[i].Epoch == epoch {
			r.logs[i] = e
			return
		}
	}
	r.logs = append(r.logs, e)
}

func (r *recorder) SetStatus(s StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) SetProgress(p float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) SetEpochCounter(current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, [2]int{current, total})
}

func (r *recorder) SetRemainingTime(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = append(r.remaining, s)
}

func (r *recorder) SetLoss(train, val *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if train != nil {
		r.train = train
	}
	if val != nil {
		r.val = val
	}
}

func (r *recorder) MarkFinished(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, success)
}

// messagesContaining returns every log message containing substr.
func (r *recorder) messagesContaining(substr string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.logs {
		if strings.Contains(e.Message, substr) {
			out = append(out, e.Message)
		}
	}
	return out
}

func (r *recorder) epochEntries(epoch int) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LogEntry
	for _, e := range r.logs {
		if e.Epoch == epoch {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) lastCounter() [2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counters) == 0 {
		return [2]int{}
	}
	return r.counters[len(r.counters)-1]
}

func (r *recorder) lastProgress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.progress) == 0 {
		return -1
	}
	return r.progress[len(r.progress)-1]
}

type harness struct {
	clock     *fakeClock
	transport *fakeTransport
	rec       *recorder
	session   *Session
	mon       *Monitor
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		transport: &fakeTransport{},
		rec:       &recorder{},
		session:   NewSession("run-1"),
	}
	opts := DefaultOptions()
	opts.BaseURL = "http://trainer.test"
	opts.Clock = h.clock
	opts.LivenessTimeout = 0
	if tweak != nil {
		tweak(&opts)
	}
	h.mon = New(h.session, h.transport, h.rec, opts)
	return h
}

// started starts the monitor and opens the first connection.
func (h *harness) started(t *testing.T) *fakeConn {
	t.Helper()
	h.mon.Start()
	c := h.transport.last()
	if c == nil {
		t.Fatal("Start did not open a connection")
	}
	c.open()
	if got := h.mon.State(); got != Active {
		t.Fatalf("state after open = %v, want active", got)
	}
	return c
}

func (h *harness) assertState(t *testing.T, want State) {
	t.Helper()
	if got := h.mon.State(); got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}
}
