// Package mockserver simulates the training dashboard: it runs fake training
// jobs and streams their progress over Server-Sent Events and WebSocket.
package mockserver

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nn-dashboard/trainwatch/internal/config"
	"github.com/nn-dashboard/trainwatch/internal/metrics"
)

// RunParams shapes a new run. Zero fields take the generator defaults.
type RunParams struct {
	ModelName       string        `json:"model_name,omitempty"`
	Epochs          int           `json:"epochs,omitempty"`
	Scenario        string        `json:"scenario,omitempty"`
	BatchesPerEpoch int           `json:"-"`
	HeartbeatEvery  int           `json:"-"`
	Tick            time.Duration `json:"-"`
}

type Generator struct {
	cfg   config.MockConfig
	stats HostStats

	mu   sync.RWMutex
	runs map[string]*Run
	seed int64
}

func NewGenerator(cfg config.MockConfig) *Generator {
	return &Generator{
		cfg:   cfg,
		stats: hostStats,
		runs:  make(map[string]*Run),
		seed:  time.Now().UnixNano(),
	}
}

// SetHostStats replaces the heartbeat statistics source.
func (g *Generator) SetHostStats(stats HostStats) {
	g.stats = stats
}

func hostStats() (float64, float64) {
	var cpuPct, memPct float64
	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		cpuPct = p[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}
	return cpuPct, memPct
}

// Create registers a new run. It starts advancing on the next tick.
func (g *Generator) Create(p RunParams) (*Run, error) {
	if p.ModelName == "" {
		p.ModelName = "mlp-regressor"
	}
	if p.Epochs <= 0 {
		p.Epochs = g.cfg.Epochs
	}
	if p.Scenario == "" {
		p.Scenario = g.cfg.Scenario
	}
	if !config.ValidScenario(p.Scenario) {
		return nil, fmt.Errorf("unknown scenario %q", p.Scenario)
	}
	if p.BatchesPerEpoch <= 0 {
		p.BatchesPerEpoch = g.cfg.BatchesPerEpoch
	}
	if p.HeartbeatEvery <= 0 {
		p.HeartbeatEvery = g.cfg.HeartbeatEvery
	}
	if p.Tick <= 0 {
		p.Tick = g.cfg.Tick
	}

	g.mu.Lock()
	g.seed++
	run := newRun(uuid.NewString(), p, g.stats, g.seed)
	g.runs[run.ID] = run
	g.mu.Unlock()

	metrics.RunsStarted.Inc()
	log.Printf("mock run %s started: model=%s epochs=%d scenario=%s", run.ID, p.ModelName, p.Epochs, p.Scenario)
	return run, nil
}

func (g *Generator) Get(id string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	run, ok := g.runs[id]
	return run, ok
}

// List returns every run, oldest first.
func (g *Generator) List() []*Run {
	g.mu.RLock()
	runs := make([]*Run, 0, len(g.runs))
	for _, run := range g.runs {
		runs = append(runs, run)
	}
	g.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs
}

// Step advances every running run by one tick.
func (g *Generator) Step() {
	g.mu.RLock()
	runs := make([]*Run, 0, len(g.runs))
	for _, run := range g.runs {
		runs = append(runs, run)
	}
	g.mu.RUnlock()

	for _, run := range runs {
		run.Step()
	}
}

func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
		}
	}
}
