package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMonitorPath is the event-stream endpoint of the training dashboard.
const DefaultMonitorPath = "/redes-neuronales/monitor-entrenamiento/"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Mock    MockConfig    `yaml:"mock"`
}

// ServerConfig controls where the mock training server listens.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// MonitorConfig holds the stream client settings.
type MonitorConfig struct {
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	Transport string `yaml:"transport"` // "sse" or "ws"
	Token     string `yaml:"token"`

	MaxAttempts       int           `yaml:"max_attempts"`
	ReconnectStep     time.Duration `yaml:"reconnect_step"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`

	GapQuietPeriod        time.Duration `yaml:"gap_quiet_period"`
	HeartbeatGapThreshold int           `yaml:"heartbeat_gap_threshold"`
	ResyncCooldown        time.Duration `yaml:"resync_cooldown"`
	CompletionGrace       time.Duration `yaml:"completion_grace"`
	LivenessTimeout       time.Duration `yaml:"liveness_timeout"`

	DebugPrefixes []string `yaml:"debug_prefixes"`
}

// MockConfig shapes the simulated training runs served by `trainwatch serve`.
type MockConfig struct {
	Epochs          int           `yaml:"epochs"`
	BatchesPerEpoch int           `yaml:"batches_per_epoch"`
	Tick            time.Duration `yaml:"tick"`
	HeartbeatEvery  int           `yaml:"heartbeat_every"`
	Scenario        string        `yaml:"scenario"`
}

var ErrInvalidConfig = errors.New("invalid config")

var (
	validTransports = map[string]bool{"sse": true, "ws": true}
	validScenarios  = map[string]bool{"steady": true, "flaky": true, "error": true, "drop": true}
)

// ValidScenario reports whether name is a known mock scenario.
func ValidScenario(name string) bool {
	return validScenarios[name]
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8000,
			Host: "127.0.0.1",
		},
		Monitor: MonitorConfig{
			BaseURL:               "http://127.0.0.1:8000",
			Path:                  DefaultMonitorPath,
			Transport:             "sse",
			MaxAttempts:           3,
			ReconnectStep:         time.Second,
			ReconnectMaxDelay:     5 * time.Second,
			GapQuietPeriod:        5 * time.Second,
			HeartbeatGapThreshold: 2,
			ResyncCooldown:        15 * time.Second,
			CompletionGrace:       2 * time.Second,
			LivenessTimeout:       30 * time.Second,
			DebugPrefixes:         []string{"DEBUG", "[DEBUG]"},
		},
		Mock: MockConfig{
			Epochs:          20,
			BatchesPerEpoch: 4,
			Tick:            250 * time.Millisecond,
			HeartbeatEvery:  8,
			Scenario:        "flaky",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	m := c.Monitor
	if u, err := url.Parse(m.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "monitor.base_url must be an absolute URL")
	}
	if !strings.HasPrefix(m.Path, "/") {
		problems = append(problems, "monitor.path must start with /")
	}
	if !validTransports[m.Transport] {
		problems = append(problems, fmt.Sprintf("monitor.transport %q must be sse or ws", m.Transport))
	}
	if m.MaxAttempts <= 0 {
		problems = append(problems, "monitor.max_attempts must be > 0")
	}
	if m.ReconnectStep <= 0 {
		problems = append(problems, "monitor.reconnect_step must be > 0")
	}
	if m.ReconnectMaxDelay < m.ReconnectStep {
		problems = append(problems, "monitor.reconnect_max_delay must be >= reconnect_step")
	}
	if m.GapQuietPeriod <= 0 {
		problems = append(problems, "monitor.gap_quiet_period must be > 0")
	}
	if m.HeartbeatGapThreshold < 0 {
		problems = append(problems, "monitor.heartbeat_gap_threshold must be >= 0")
	}
	if m.CompletionGrace < 0 {
		problems = append(problems, "monitor.completion_grace must be >= 0")
	}

	if c.Mock.Epochs <= 0 {
		problems = append(problems, "mock.epochs must be > 0")
	}
	if c.Mock.BatchesPerEpoch <= 0 {
		problems = append(problems, "mock.batches_per_epoch must be > 0")
	}
	if c.Mock.Tick <= 0 {
		problems = append(problems, "mock.tick must be > 0")
	}
	if !validScenarios[c.Mock.Scenario] {
		problems = append(problems, fmt.Sprintf("mock.scenario %q is not one of steady, flaky, error, drop", c.Mock.Scenario))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ListenAddr returns host:port for the mock server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
