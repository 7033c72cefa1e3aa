package mockserver

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nn-dashboard/trainwatch/internal/metrics"
	"github.com/nn-dashboard/trainwatch/internal/monitor"
)

// Frame is one event as written to subscribers.
type Frame struct {
	ID    string
	Event string
	Data  json.RawMessage
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Info is the REST view of a run.
type Info struct {
	ID          string     `json:"id"`
	ModelName   string     `json:"model_name"`
	Status      RunStatus  `json:"status"`
	Scenario    string     `json:"scenario,omitempty"`
	Epoch       int        `json:"epoch"`
	TotalEpochs int        `json:"total_epochs"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	StreamURL   string     `json:"stream_url"`
}

// HostStats samples CPU and memory utilisation for heartbeats.
type HostStats func() (cpuPercent, memPercent float64)

type subscriber struct {
	send chan Frame
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Run is one simulated training run. Each Step advances it by one batch.
type Run struct {
	ID              string
	ModelName       string
	Scenario        string
	Epochs          int
	BatchesPerEpoch int
	HeartbeatEvery  int
	Tick            time.Duration
	StartedAt       time.Time

	mu         sync.Mutex
	status     RunStatus
	finishedAt *time.Time
	epoch      int
	batch      int
	tick       int
	seq        int
	lastVal    float64
	cache      map[int]json.RawMessage
	final      []Frame
	subs       map[*subscriber]struct{}
	rng        *rand.Rand
	dropped    bool
	stats      HostStats
}

func newRun(id string, p RunParams, stats HostStats, seed int64) *Run {
	return &Run{
		ID:              id,
		ModelName:       p.ModelName,
		Scenario:        p.Scenario,
		Epochs:          p.Epochs,
		BatchesPerEpoch: p.BatchesPerEpoch,
		HeartbeatEvery:  p.HeartbeatEvery,
		Tick:            p.Tick,
		StartedAt:       time.Now(),
		status:          RunRunning,
		cache:           make(map[int]json.RawMessage),
		subs:            make(map[*subscriber]struct{}),
		rng:             rand.New(rand.NewSource(seed)),
		stats:           stats,
	}
}

// Subscribe attaches a new listener. The returned frames replay every
// finished epoch from the cache, plus the terminal events if the run is over,
// in which case the subscriber's channel is already closed.
func (r *Run) Subscribe() (*subscriber, []Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	epochs := make([]int, 0, len(r.cache))
	for e := range r.cache {
		epochs = append(epochs, e)
	}
	sort.Ints(epochs)
	replay := make([]Frame, 0, len(epochs)+len(r.final))
	for _, e := range epochs {
		replay = append(replay, Frame{Event: string(monitor.KindLog), Data: r.cache[e]})
	}
	replay = append(replay, r.final...)

	sub := &subscriber{send: make(chan Frame, 256)}
	if r.status != RunRunning {
		sub.close()
		return sub, replay
	}
	r.subs[sub] = struct{}{}
	metrics.StreamClients.Inc()
	return sub, replay
}

func (r *Run) Unsubscribe(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub)
}

func (r *Run) removeLocked(sub *subscriber) {
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		metrics.StreamClients.Dec()
	}
	sub.close()
}

func (r *Run) disconnectAllLocked() {
	for sub := range r.subs {
		r.removeLocked(sub)
	}
}

// Subscribers returns the number of attached listeners.
func (r *Run) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Run) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:          r.ID,
		ModelName:   r.ModelName,
		Status:      r.status,
		Scenario:    r.Scenario,
		Epoch:       r.epoch,
		TotalEpochs: r.Epochs,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.finishedAt,
	}
}

func (r *Run) publishLocked(kind monitor.Kind, payload any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mock %s: marshal %s: %v", r.ID, kind, err)
		return Frame{}
	}
	r.seq++
	f := Frame{ID: strconv.Itoa(r.seq), Event: string(kind), Data: data}
	metrics.EventsSent.WithLabelValues(string(kind)).Inc()

	for sub := range r.subs {
		select {
		case sub.send <- f:
		default:
			log.Printf("mock %s: stream subscriber too slow, disconnecting", r.ID)
			r.removeLocked(sub)
		}
	}
	return f
}

func (r *Run) logLocked(level monitor.Level, msg string) {
	r.publishLocked(monitor.KindLog, monitor.LogPayload{Message: msg, Level: level})
}

// Step advances the run by one tick and reports whether it is still running.
func (r *Run) Step() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != RunRunning {
		return false
	}
	r.tick++

	if r.tick == 1 {
		r.logLocked(monitor.LevelInfo, fmt.Sprintf("Loading dataset for %s", r.ModelName))
		r.logLocked(monitor.LevelInfo, fmt.Sprintf("DEBUG: scenario=%s batches_per_epoch=%d", r.Scenario, r.BatchesPerEpoch))
		r.logLocked(monitor.LevelInfo, fmt.Sprintf("Starting training: %d epochs", r.Epochs))
		return true
	}

	r.batch++
	current, total := r.epoch+1, r.Epochs
	loss := r.lossAt(r.epoch, r.batch)
	r.publishLocked(monitor.KindBatchProgress, monitor.BatchProgressPayload{
		Loss:        &loss,
		Epoch:       &current,
		TotalEpochs: &total,
	})

	if r.batch >= r.BatchesPerEpoch {
		r.batch = 0
		r.epoch++
		r.finishEpochLocked(loss)
	}

	if r.status == RunRunning && r.HeartbeatEvery > 0 && r.tick%r.HeartbeatEvery == 0 {
		r.heartbeatLocked()
	}
	if r.status == RunRunning && r.epoch >= r.Epochs {
		r.completeLocked()
	}
	return r.status == RunRunning
}

func (r *Run) lossAt(epoch, batch int) float64 {
	progress := (float64(epoch) + float64(batch)/float64(r.BatchesPerEpoch)) / float64(r.Epochs)
	return 0.05 + 1.1*math.Exp(-3*progress) + r.rng.Float64()*0.02
}

func (r *Run) finishEpochLocked(train float64) {
	e, total := r.epoch, r.Epochs
	val := train*1.08 + r.rng.Float64()*0.01
	r.lastVal = val

	payload := monitor.LogPayload{
		Message:     fmt.Sprintf("Epoch %d/%d - loss: %.4f - val_loss: %.4f", e, total, train, val),
		Level:       monitor.LevelInfo,
		EpochNumber: &e,
		TotalEpochs: &total,
		Loss:        &train,
		ValLoss:     &val,
		IsEpochLog:  true,
		IsRealEpoch: true,
	}
	cached := payload
	cached.FromSpecializedCache = true
	if data, err := json.Marshal(cached); err == nil {
		r.cache[e] = data
	}

	switch {
	case r.Scenario == "flaky" && e%5 == 3:
		// lost in transit; only the cache and heartbeats know about it
	case r.Scenario == "flaky" && e%4 == 0:
		r.publishLocked(monitor.KindLog, payload)
		r.publishLocked(monitor.KindEpoch, payload)
	default:
		r.publishLocked(monitor.KindLog, payload)
	}

	remaining := time.Duration((total-e)*r.BatchesPerEpoch) * r.Tick
	r.publishLocked(monitor.KindProgress, monitor.ProgressPayload{
		Epoch:         e,
		TotalEpochs:   total,
		TrainLoss:     &train,
		ValLoss:       &val,
		RemainingTime: formatRemaining(remaining),
	})

	switch r.Scenario {
	case "error":
		if e >= max(1, total*6/10) {
			r.failLocked("CUDA out of memory while allocating batch tensors")
		}
	case "drop":
		if !r.dropped && e >= max(1, total/2) {
			r.dropped = true
			log.Printf("mock %s: dropping %d stream subscribers", r.ID, len(r.subs))
			r.disconnectAllLocked()
		}
	}
}

func formatRemaining(d time.Duration) string {
	s := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func (r *Run) heartbeatLocked() {
	var cpu, mem float64
	if r.stats != nil {
		cpu, mem = r.stats()
	}
	r.publishLocked(monitor.KindHeartbeat, monitor.HeartbeatPayload{
		Stats: &monitor.HeartbeatStats{TotalEpochs: r.epoch, CPUPercent: cpu, MemPercent: mem},
	})
}

func (r *Run) completeLocked() {
	final := map[string]any{
		"r2":       0.85 + r.rng.Float64()*0.1,
		"mae":      r.lastVal * 0.4,
		"mse":      r.lastVal * r.lastVal,
		"accuracy": 0.88 + r.rng.Float64()*0.1,
	}
	done := r.publishLocked(monitor.KindComplete, monitor.CompletePayload{Metrics: final, ModelName: r.ModelName})
	closed := r.publishLocked(monitor.KindClose, monitor.ClosePayload{Message: "Training completed"})
	r.finishLocked(RunCompleted, done, closed)
}

func (r *Run) failLocked(msg string) {
	f := r.publishLocked(monitor.KindError, monitor.ErrorPayload{Message: msg})
	r.finishLocked(RunFailed, f)
}

func (r *Run) finishLocked(status RunStatus, final ...Frame) {
	now := time.Now()
	r.status = status
	r.finishedAt = &now
	r.final = final
	r.disconnectAllLocked()
	log.Printf("mock %s: run %s after %d epochs", r.ID, status, r.epoch)
}
