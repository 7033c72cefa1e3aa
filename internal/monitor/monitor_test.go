package monitor

import (
	"strings"
	"testing"
	"time"
)

func TestStreamURL(t *testing.T) {
	got := StreamURL("http://host:8000/", "/redes-neuronales/monitor-entrenamiento/", "a b&c")
	want := "http://host:8000/redes-neuronales/monitor-entrenamiento/?training_id=a+b%26c"
	if got != want {
		t.Errorf("StreamURL() = %q, want %q", got, want)
	}
}

func TestStartOpensStream(t *testing.T) {
	h := newHarness(t, nil)
	h.mon.Start()

	h.assertState(t, Connecting)
	if len(h.transport.conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(h.transport.conns))
	}
	want := "http://trainer.test/redes-neuronales/monitor-entrenamiento/?training_id=run-1"
	if got := h.transport.last().url; got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
	if len(h.rec.messagesContaining("Connecting to training run-1")) != 1 {
		t.Error("expected an initial connecting log entry")
	}

	h.transport.last().open()
	h.assertState(t, Active)
	if s := h.mon.Snapshot(); s.Status != StatusActive {
		t.Errorf("session status = %q, want active", s.Status)
	}
}

func TestStartReplacesOpenConnection(t *testing.T) {
	h := newHarness(t, nil)
	first := h.started(t)

	h.mon.Start()

	if !first.closed {
		t.Error("previous connection should be closed")
	}
	if len(h.transport.conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(h.transport.conns))
	}
}

func TestDuplicateEpochIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	payload := `{"message":"Epoch 1/10 - loss: 0.5000","epoch_number":1,"total_epochs":10,"loss":0.5,"is_epoch_log":true}`
	c.send("log", payload)
	c.send("log", payload)
	c.send("epoch", `{"epoch":1,"total_epochs":10,"loss":0.5}`)

	if n := len(h.rec.epochEntries(1)); n != 1 {
		t.Fatalf("epoch 1 rendered %d times, want 1", n)
	}
	if len(h.rec.replaced) != 0 {
		t.Errorf("plain duplicates must not replace, got %d replacements", len(h.rec.replaced))
	}
	if got := h.rec.lastCounter(); got != [2]int{1, 10} {
		t.Errorf("epoch counter = %v, want [1 10]", got)
	}
	if len(h.rec.counters) != 3 {
		t.Errorf("indicators refreshed %d times, want 3", len(h.rec.counters))
	}
	snap := h.mon.Snapshot()
	if len(snap.ProcessedEpochs) != 1 || snap.LastEpochReceived != 1 {
		t.Errorf("session = %+v", snap)
	}
}

func TestCachedResendReplacesEpochBlock(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("epoch", `{"epoch_number":2,"total_epochs":5,"loss":0.9,"message":"Epoch 2/5 - loss: 0.9000"}`)
	c.send("epoch", `{"epoch_number":2,"total_epochs":5,"loss":0.4,"message":"Epoch 2/5 - loss: 0.4000","from_specialized_cache":true}`)

	entries := h.rec.epochEntries(2)
	if len(entries) != 1 {
		t.Fatalf("epoch 2 rendered %d times, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Message, "0.4000") {
		t.Errorf("epoch block = %q, want the cached content", entries[0].Message)
	}
	if len(h.rec.replaced) != 1 {
		t.Errorf("replacements = %d, want 1", len(h.rec.replaced))
	}
	if h.rec.train == nil || *h.rec.train != 0.4 {
		t.Errorf("train loss = %v, want 0.4", h.rec.train)
	}
}

func TestGapReportedAfterQuietPeriod(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	for _, e := range []string{"1", "2", "4"} {
		c.send("epoch", `{"epoch_number":`+e+`,"total_epochs":10}`)
	}

	h.clock.Advance(4900 * time.Millisecond)
	if got := h.rec.messagesContaining("not received"); len(got) != 0 {
		t.Fatalf("gap reported before quiet period: %v", got)
	}

	h.clock.Advance(200 * time.Millisecond)
	got := h.rec.messagesContaining("not received")
	if len(got) != 1 {
		t.Fatalf("expected 1 gap report, got %v", got)
	}
	if !strings.HasSuffix(got[0], ": 3") {
		t.Errorf("gap report = %q, want it to list epoch 3", got[0])
	}
}

func TestGapCheckDeferredByNewEpochs(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("epoch", `{"epoch_number":1,"total_epochs":10}`)
	c.send("epoch", `{"epoch_number":3,"total_epochs":10}`)
	h.clock.Advance(4 * time.Second)
	c.send("epoch", `{"epoch_number":2,"total_epochs":10}`)
	h.clock.Advance(10 * time.Second)

	if got := h.rec.messagesContaining("not received"); len(got) != 0 {
		t.Errorf("gap filled before the check ran, got %v", got)
	}
}

func TestIndicatorsShowHighestEpoch(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("epoch", `{"epoch_number":4,"total_epochs":8}`)
	c.send("epoch", `{"epoch_number":3,"total_epochs":8}`)

	if got := h.rec.lastCounter(); got != [2]int{4, 8} {
		t.Errorf("epoch counter = %v, want [4 8]", got)
	}
	if got := h.rec.lastProgress(); got != 50 {
		t.Errorf("progress = %v, want 50", got)
	}
}

func TestRegexFallbackForUnflaggedLog(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("log", `{"message":"Epoch 3/10 - loss: 0.2500 - val_loss: 0.3000","level":"info"}`)

	entries := h.rec.epochEntries(3)
	if len(entries) != 1 {
		t.Fatalf("expected an epoch 3 block, got %d", len(entries))
	}
	if got := h.rec.lastCounter(); got != [2]int{3, 10} {
		t.Errorf("epoch counter = %v, want [3 10]", got)
	}
	if h.rec.train == nil || *h.rec.train != 0.25 {
		t.Errorf("train loss = %v, want 0.25", h.rec.train)
	}
	if h.rec.val == nil || *h.rec.val != 0.3 {
		t.Errorf("val loss = %v, want 0.3", h.rec.val)
	}
	if got := h.rec.lastProgress(); got != 30 {
		t.Errorf("progress = %v, want 30", got)
	}
}

func TestPlainLogAppended(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("log", `{"message":"Loading dataset","level":"warning"}`)

	got := h.rec.messagesContaining("Loading dataset")
	if len(got) != 1 {
		t.Fatalf("expected the log line, got %v", got)
	}
	last := h.rec.logs[len(h.rec.logs)-1]
	if last.Level != LevelWarning || last.Epoch != 0 {
		t.Errorf("entry = %+v", last)
	}
}

func TestDebugLinesSuppressed(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)
	before := len(h.rec.logs)

	c.send("log", `{"message":"DEBUG: batch tensor shapes"}`)
	c.send("log", `{"message":"[DEBUG] Epoch 2/10 cached"}`)

	if len(h.rec.logs) != before {
		t.Errorf("debug lines rendered: %v", h.rec.logs[before:])
	}
	if s := h.mon.Snapshot(); len(s.ProcessedEpochs) != 0 {
		t.Errorf("debug line counted as an epoch: %v", s.Epochs())
	}
}

func TestUnnamedEventRoutedByType(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("message", `{"type":"log","message":"hello from the trainer"}`)

	if len(h.rec.messagesContaining("hello from the trainer")) != 1 {
		t.Error("unnamed log event was not routed")
	}
}

func TestMalformedEventDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("log", `{"message":`)
	c.send("log", `{"message":"still alive"}`)

	h.assertState(t, Active)
	if len(h.rec.messagesContaining("Discarded malformed log event")) != 1 {
		t.Error("expected a warning for the malformed event")
	}
	if len(h.rec.messagesContaining("still alive")) != 1 {
		t.Error("valid event after a malformed one was not processed")
	}
}

func TestProgressEvent(t *testing.T) {
	var got []ProgressPayload
	h := newHarness(t, func(o *Options) {
		o.OnProgress = func(p ProgressPayload) { got = append(got, p) }
	})
	c := h.started(t)

	c.send("progress", `{"epoch":2,"total_epochs":4,"remaining_time":"00:10","train_loss":0.7}`)

	if len(got) != 1 || got[0].Epoch != 2 {
		t.Fatalf("OnProgress calls = %+v", got)
	}
	if p := h.rec.lastProgress(); p != 50 {
		t.Errorf("progress = %v, want 50", p)
	}
	if len(h.rec.remaining) != 1 || h.rec.remaining[0] != "00:10" {
		t.Errorf("remaining = %v", h.rec.remaining)
	}
	if h.rec.train == nil || *h.rec.train != 0.7 {
		t.Errorf("train loss = %v", h.rec.train)
	}
}

func TestBatchProgressUpdatesLoss(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("batch_progress", `{"loss":1.25}`)

	if h.rec.train == nil || *h.rec.train != 1.25 {
		t.Errorf("train loss = %v, want 1.25", h.rec.train)
	}
	if len(h.rec.counters) != 0 {
		t.Errorf("batch without epoch should not touch the counter: %v", h.rec.counters)
	}
}

func TestReconnectBackoffThenFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.mon.Start()

	h.transport.last().fail()
	h.assertState(t, Reconnecting)
	if h.clock.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.clock.Pending())
	}
	h.clock.Advance(999 * time.Millisecond)
	if len(h.transport.conns) != 1 {
		t.Fatal("reconnected before the first delay elapsed")
	}
	h.clock.Advance(time.Millisecond)
	if len(h.transport.conns) != 2 {
		t.Fatalf("expected reconnect after 1s, have %d connections", len(h.transport.conns))
	}

	h.transport.last().fail()
	h.clock.Advance(2 * time.Second)
	if len(h.transport.conns) != 3 {
		t.Fatalf("expected reconnect after 2s, have %d connections", len(h.transport.conns))
	}

	h.transport.last().fail()
	h.assertState(t, Failed)
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers after failure = %d, want 0", h.clock.Pending())
	}
	h.clock.Advance(time.Minute)
	if len(h.transport.conns) != 3 {
		t.Errorf("reconnected after failing: %d connections", len(h.transport.conns))
	}
	if len(h.rec.messagesContaining("Reload")) != 1 {
		t.Error("expected a manual reload hint")
	}
}

func TestSuccessfulOpenResetsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.mon.Start()

	h.transport.last().fail()
	h.clock.Advance(time.Second)
	h.transport.last().open()
	h.transport.last().fail()

	if got := h.rec.messagesContaining("reconnecting in 1s"); len(got) != 2 {
		t.Errorf("expected both retries to use the first delay, got %v", got)
	}
}

func TestStartResetsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.mon.Start()
	h.transport.last().fail()
	h.transport.last().fail() // ignored, connection already closed

	h.mon.Start()
	if h.clock.Pending() != 0 {
		t.Errorf("Start should cancel the pending reconnect, %d timers pending", h.clock.Pending())
	}
	h.transport.last().fail()
	if got := h.rec.messagesContaining("reconnecting in 1s"); len(got) != 2 {
		t.Errorf("retry after Start should use the first delay, got %v", got)
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.mon.Start()
	h.transport.last().fail()

	h.mon.Stop()

	h.assertState(t, Idle)
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers after Stop = %d", h.clock.Pending())
	}
	h.clock.Advance(10 * time.Second)
	if len(h.transport.conns) != 1 {
		t.Errorf("reconnected after Stop: %d connections", len(h.transport.conns))
	}
	h.mon.Stop()
}

func TestStaleConnectionIgnored(t *testing.T) {
	h := newHarness(t, nil)
	old := h.started(t)
	h.mon.Start()
	h.transport.last().open()
	before := len(h.rec.logs)

	old.send("log", `{"message":"from the old stream"}`)
	old.fail()

	h.assertState(t, Active)
	if len(h.rec.logs) != before {
		t.Errorf("stale connection reached the renderer: %v", h.rec.logs[before:])
	}
	if h.clock.Pending() != 0 {
		t.Error("stale error scheduled a reconnect")
	}
}

func TestEventsIgnoredAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)
	h.mon.Stop()
	before := len(h.rec.logs)

	c.send("log", `{"message":"late"}`)

	if len(h.rec.logs) != before {
		t.Error("event after Stop reached the renderer")
	}
	if !c.closed {
		t.Error("Stop should close the connection")
	}
}

func TestCompleteFiresOnceAndTearsDown(t *testing.T) {
	var completions int
	h := newHarness(t, func(o *Options) {
		o.OnComplete = func(CompletePayload) { completions++ }
	})
	c := h.started(t)

	c.send("epoch", `{"epoch_number":1,"total_epochs":1}`)
	c.send("complete", `{"metrics":{"r2":0.91,"MAE":0.123,"accuracy":0.95}}`)
	c.send("complete", `{}`)

	if completions != 1 {
		t.Fatalf("OnComplete called %d times, want 1", completions)
	}
	h.assertState(t, Completed)
	for _, want := range []string{"R²: 0.9100", "MAE: 0.12", "Accuracy: 95.00%", "Training completed successfully"} {
		if len(h.rec.messagesContaining(want)) != 1 {
			t.Errorf("missing log line %q", want)
		}
	}
	if len(h.rec.finished) != 1 || !h.rec.finished[0] {
		t.Errorf("finished = %v, want [true]", h.rec.finished)
	}

	c.send("log", `{"message":"Saving artefacts"}`)
	if len(h.rec.messagesContaining("Saving artefacts")) != 1 {
		t.Error("trailing log during grace period was dropped")
	}
	if c.closed {
		t.Fatal("connection closed before the grace period")
	}

	h.clock.Advance(2 * time.Second)
	if !c.closed {
		t.Fatal("connection still open after the grace period")
	}
	if h.clock.Pending() != 0 {
		t.Errorf("pending timers after teardown = %d", h.clock.Pending())
	}
	c.send("log", `{"message":"too late"}`)
	if len(h.rec.messagesContaining("too late")) != 0 {
		t.Error("event after teardown reached the renderer")
	}
	h.assertState(t, Completed)
}

func TestCompleteFlushesPendingGapCheck(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("epoch", `{"epoch_number":1,"total_epochs":3}`)
	c.send("epoch", `{"epoch_number":3,"total_epochs":3}`)
	c.send("complete", `{}`)

	if got := h.rec.messagesContaining("not received"); len(got) != 1 {
		t.Errorf("expected the gap report on completion, got %v", got)
	}
}

func TestStreamErrorAfterCompleteDoesNotReconnect(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)
	c.send("complete", `{}`)

	c.fail()

	h.assertState(t, Completed)
	h.clock.Advance(time.Minute)
	if len(h.transport.conns) != 1 {
		t.Errorf("reconnected after completion: %d connections", len(h.transport.conns))
	}
}

func TestStartAfterFinishIgnored(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)
	c.send("complete", `{}`)

	h.mon.Start()

	if len(h.transport.conns) != 1 {
		t.Errorf("Start after completion opened a stream")
	}
}

func TestCallbackMayStopMonitor(t *testing.T) {
	var h *harness
	h = newHarness(t, func(o *Options) {
		o.OnComplete = func(CompletePayload) { h.mon.Stop() }
	})
	c := h.started(t)

	c.send("complete", `{}`)

	h.assertState(t, Idle)
	if !c.closed {
		t.Error("connection should be closed by Stop")
	}
}

func TestServerErrorEvent(t *testing.T) {
	var got []ErrorPayload
	h := newHarness(t, func(o *Options) {
		o.OnError = func(p ErrorPayload) { got = append(got, p) }
	})
	c := h.started(t)
	c.send("epoch", `{"epoch_number":1,"total_epochs":10}`)

	c.send("error", `{"message":"CUDA out of memory"}`)

	if len(h.rec.messagesContaining("Error: CUDA out of memory")) != 1 {
		t.Error("missing error log line")
	}
	if len(got) != 1 || got[0].Message != "CUDA out of memory" {
		t.Errorf("OnError calls = %+v", got)
	}
	h.assertState(t, Failed)
	if s := h.mon.Snapshot(); s.Status != StatusError {
		t.Errorf("status = %q, want error", s.Status)
	}
	if len(h.rec.finished) != 1 || h.rec.finished[0] {
		t.Errorf("finished = %v, want [false]", h.rec.finished)
	}
	if !c.closed || h.clock.Pending() != 0 {
		t.Error("error event should tear down the stream and timers")
	}
}

func TestCloseEvent(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		wantState  State
		wantStatus Status
		wantFinish []bool
	}{
		{"completed", "Training completed", Completed, StatusCompleted, []bool{true}},
		{"spanish", "Entrenamiento finalizado", Completed, StatusCompleted, []bool{true}},
		{"shutdown", "server shutting down", Closed, StatusClosed, nil},
		{"empty", "", Closed, StatusClosed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var completions int
			h := newHarness(t, func(o *Options) {
				o.OnComplete = func(CompletePayload) { completions++ }
			})
			c := h.started(t)

			c.send("close", `{"message":"`+tt.message+`"}`)

			h.assertState(t, tt.wantState)
			if s := h.mon.Snapshot(); s.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", s.Status, tt.wantStatus)
			}
			if len(h.rec.finished) != len(tt.wantFinish) {
				t.Errorf("finished = %v, want %v", h.rec.finished, tt.wantFinish)
			}
			if completions != 0 {
				t.Error("close must not fire OnComplete")
			}
			if !c.closed {
				t.Error("close event should tear down the stream")
			}
			h.clock.Advance(time.Minute)
			if len(h.transport.conns) != 1 {
				t.Error("close event triggered a reconnect")
			}
		})
	}
}

func TestHeartbeatResync(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)
	c.send("epoch", `{"epoch_number":1,"total_epochs":10}`)

	c.send("heartbeat", `{"stats":{"total_epochs":3}}`)
	if len(h.transport.conns) != 1 {
		t.Fatal("gap within threshold should not resync")
	}

	c.send("heartbeat", `{"stats":{"total_epochs":5}}`)
	if len(h.transport.conns) != 2 {
		t.Fatalf("expected a resync, have %d connections", len(h.transport.conns))
	}
	if !c.closed {
		t.Error("resync should close the old stream")
	}

	next := h.transport.last()
	next.open()
	next.send("heartbeat", `{"stats":{"total_epochs":6}}`)
	if len(h.transport.conns) != 2 {
		t.Error("resync repeated inside the cooldown")
	}

	h.clock.Advance(16 * time.Second)
	next.send("heartbeat", `{"stats":{"total_epochs":7}}`)
	if len(h.transport.conns) != 3 {
		t.Error("expected a second resync after the cooldown")
	}
}

func TestHeartbeatWithoutStats(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("heartbeat", `{}`)

	if len(h.transport.conns) != 1 {
		t.Error("heartbeat without stats triggered a resync")
	}
}

func TestLivenessTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.LivenessTimeout = 30 * time.Second })
	c := h.started(t)

	h.clock.Advance(29 * time.Second)
	c.send("heartbeat", `{}`)
	h.clock.Advance(29 * time.Second)
	h.assertState(t, Active)

	h.clock.Advance(2 * time.Second)
	h.assertState(t, Reconnecting)
	if !c.closed {
		t.Error("stalled stream should be closed")
	}
}

func TestNewFillsDefaults(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Policy = Policy{}
		o.GapQuietPeriod = 0
		o.Path = ""
	})
	if h.mon.opts.Policy != DefaultPolicy() {
		t.Errorf("policy = %+v", h.mon.opts.Policy)
	}
	if !strings.Contains(h.mon.URL(), "/redes-neuronales/monitor-entrenamiento/") {
		t.Errorf("url = %q", h.mon.URL())
	}
}

func TestCleanFinish(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Training completed", true},
		{"finished", true},
		{"Entrenamiento finalizado con éxito", true},
		{"SUCCESS", true},
		{"connection reset", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := CleanFinish(tt.msg); got != tt.want {
			t.Errorf("CleanFinish(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestFormatMetric(t *testing.T) {
	m := map[string]any{"r2": 0.5, "mean_absolute_error": "0.25", "acc": 0.875}
	tests := []struct {
		name string
		want string
	}{
		{"R2", "0.5000"},
		{"MAE", "0.25"},
		{"Accuracy", "87.50%"},
		{"RMSE", "N/A"},
	}
	for _, tt := range tests {
		if got := FormatMetric(m, tt.name); got != tt.want {
			t.Errorf("FormatMetric(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestServerErrorAfterCompleteIgnored(t *testing.T) {
	var errs int
	h := newHarness(t, func(o *Options) {
		o.OnError = func(ErrorPayload) { errs++ }
	})
	c := h.started(t)

	c.send("complete", `{"metrics":{"r2":0.9}}`)
	c.send("error", `{"message":"late failure"}`)

	h.assertState(t, Completed)
	if s := h.mon.Snapshot(); s.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", s.Status)
	}
	if errs != 0 {
		t.Errorf("OnError called %d times after completion", errs)
	}
	if len(h.rec.finished) != 1 || !h.rec.finished[0] {
		t.Errorf("finished = %v, want [true]", h.rec.finished)
	}
	if len(h.rec.messagesContaining("late failure")) != 0 {
		t.Error("error after completion reached the log")
	}
	if !c.closed || h.clock.Pending() != 0 {
		t.Error("error after completion should still tear down")
	}
}

func TestCleanCloseBeforeComplete(t *testing.T) {
	var completions int
	h := newHarness(t, func(o *Options) {
		o.OnComplete = func(CompletePayload) { completions++ }
	})
	c := h.started(t)

	c.send("close", `{"message":"Training completed"}`)
	c.send("complete", `{"metrics":{"r2":0.9}}`)

	h.assertState(t, Completed)
	if completions != 0 {
		t.Errorf("OnComplete called %d times, want 0", completions)
	}
	if len(h.rec.messagesContaining("R²")) != 0 {
		t.Error("complete after close was processed")
	}
	if len(h.rec.finished) != 1 || !h.rec.finished[0] {
		t.Errorf("finished = %v, want [true]", h.rec.finished)
	}
}

func TestEpochBeyondTotalIgnored(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("epoch", `{"epoch_number":1,"total_epochs":10}`)
	c.send("epoch", `{"epoch_number":20000000}`)
	c.send("log", `{"message":"Epoch 11/10 - loss: 0.1"}`)

	s := h.mon.Snapshot()
	if s.LastEpochReceived != 1 || len(s.ProcessedEpochs) != 1 {
		t.Errorf("session = %+v, want only epoch 1", s)
	}
	if got := h.rec.lastCounter(); got != [2]int{1, 10} {
		t.Errorf("counter = %v, want [1 10]", got)
	}
	if got := h.rec.messagesContaining("Ignored report for epoch"); len(got) != 2 {
		t.Errorf("warnings = %v, want 2", got)
	}
}

func TestGapReportStaysBounded(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	c.send("epoch", `{"epoch_number":20000000,"total_epochs":20000000}`)
	h.clock.Advance(6 * time.Second)

	got := h.rec.messagesContaining("not received")
	if len(got) != 1 {
		t.Fatalf("expected 1 gap report, got %d", len(got))
	}
	if !strings.HasSuffix(got[0], ": 1-19999999") {
		t.Errorf("gap report = %q", got[0])
	}
}

func TestGapReportCollapsesRuns(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)

	for _, e := range []string{"1", "5", "6", "9"} {
		c.send("epoch", `{"epoch_number":`+e+`,"total_epochs":10}`)
	}
	h.clock.Advance(6 * time.Second)

	got := h.rec.messagesContaining("not received")
	if len(got) != 1 || !strings.HasSuffix(got[0], ": 2-4, 7-8") {
		t.Errorf("gap report = %v, want ranges 2-4, 7-8", got)
	}
}

func TestReconnectSendsLastEventID(t *testing.T) {
	h := newHarness(t, nil)
	c := h.started(t)
	if c.lastEventID != "" {
		t.Errorf("first connection sent Last-Event-ID %q", c.lastEventID)
	}

	c.sendID("11", "log", `{"message":"one"}`)
	c.sendID("12", "log", `{"message":"two"}`)
	c.send("heartbeat", `{}`)
	c.fail()
	h.clock.Advance(time.Second)

	if len(h.transport.conns) != 2 {
		t.Fatalf("expected a reconnect, have %d connections", len(h.transport.conns))
	}
	if got := h.transport.last().lastEventID; got != "12" {
		t.Errorf("reconnect Last-Event-ID = %q, want 12", got)
	}
}
