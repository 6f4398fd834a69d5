package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for local daemon mode
type LocalConfig struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`
}

// TerminalConfig holds simulated terminal settings
type TerminalConfig struct {
	DelayMinMs        int        `yaml:"delay_min_ms"`
	DelayMaxMs        int        `yaml:"delay_max_ms"`
	MaxIterations     int        `yaml:"max_iterations"`
	MaxOutputBytes    int        `yaml:"max_output_bytes"`
	SessionTTLMinutes int        `yaml:"session_ttl_minutes"` // 0 keeps sessions forever
	MaxConcurrentRuns int        `yaml:"max_concurrent_runs"`
	MaxQueuedRuns     int        `yaml:"max_queued_runs"`
	Perf              PerfConfig `yaml:"performance"`
}

// PerfConfig bounds the fabricated performance figures
type PerfConfig struct {
	HeapBaseMB         int     `yaml:"heap_base_mb"`
	HeapIncrementMinMB int     `yaml:"heap_increment_min_mb"`
	HeapIncrementMaxMB int     `yaml:"heap_increment_max_mb"`
	HeapTotalMB        int     `yaml:"heap_total_mb"`
	CPUMinPercent      float64 `yaml:"cpu_min_percent"`
	CPUMaxPercent      float64 `yaml:"cpu_max_percent"`
	DebugHeapMB        int     `yaml:"debug_heap_mb"`
	DebugCPUPercent    float64 `yaml:"debug_cpu_percent"`
	StepHeapDeltaKB    int     `yaml:"step_heap_delta_kb"`
	StepCPUDelta       float64 `yaml:"step_cpu_delta"`
}

// EventsConfig holds lifecycle event publishing settings
type EventsConfig struct {
	AMQPURL string `yaml:"amqp_url"` // empty disables publishing
	Queue   string `yaml:"queue"`
}

// RateLimitConfig holds per-client HTTP rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second"`
	Burst             int  `yaml:"burst"`
}

// DelayMin returns the lower bound of the simulated run latency
func (c TerminalConfig) DelayMin() time.Duration {
	return time.Duration(c.DelayMinMs) * time.Millisecond
}

// DelayMax returns the upper bound of the simulated run latency
func (c TerminalConfig) DelayMax() time.Duration {
	return time.Duration(c.DelayMaxMs) * time.Millisecond
}

// SessionTTL returns how long an idle session is kept
func (c TerminalConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// CodetermDir returns the path to ~/.codeterm
func CodetermDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".codeterm"), nil
}

// EnsureCodetermDir creates ~/.codeterm and subdirectories if they don't exist
func EnsureCodetermDir() (string, error) {
	dir, err := CodetermDir()
	if err != nil {
		return "", err
	}

	subdirs := []string{
		"",
		"logs",
	}

	for _, subdir := range subdirs {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// maxOutputBytes matches the largest output cap the engine accepts
const maxOutputBytes = 1 << 20

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:     7433,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Terminal: TerminalConfig{
			DelayMinMs:        800,
			DelayMaxMs:        1500,
			MaxIterations:     1000,
			MaxOutputBytes:    256 << 10,
			SessionTTLMinutes: 60,
			MaxConcurrentRuns: 8,
			MaxQueuedRuns:     32,
			Perf: PerfConfig{
				HeapBaseMB:         4,
				HeapIncrementMinMB: 1,
				HeapIncrementMaxMB: 16,
				HeapTotalMB:        64,
				CPUMinPercent:      15,
				CPUMaxPercent:      75,
				DebugHeapMB:        12,
				DebugCPUPercent:    5,
				StepHeapDeltaKB:    512,
				StepCPUDelta:       2,
			},
		},
		Events: EventsConfig{
			Queue: "codeterm.events",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Validate checks the configuration for values the terminal cannot honour
func (c *LocalConfig) Validate() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	t := c.Terminal
	if t.DelayMinMs < 0 || t.DelayMaxMs < t.DelayMinMs {
		return fmt.Errorf("terminal delay window invalid: [%d, %d]ms", t.DelayMinMs, t.DelayMaxMs)
	}
	if t.MaxIterations <= 0 {
		return fmt.Errorf("terminal.max_iterations must be positive: %d", t.MaxIterations)
	}
	if t.MaxOutputBytes <= 0 || t.MaxOutputBytes > maxOutputBytes {
		return fmt.Errorf("terminal.max_output_bytes must be in (0, %d]: %d", maxOutputBytes, t.MaxOutputBytes)
	}
	if t.Perf.HeapIncrementMaxMB < t.Perf.HeapIncrementMinMB {
		return fmt.Errorf("terminal heap increment range invalid: [%d, %d]MB",
			t.Perf.HeapIncrementMinMB, t.Perf.HeapIncrementMaxMB)
	}
	if t.Perf.CPUMaxPercent < t.Perf.CPUMinPercent || t.Perf.CPUMaxPercent > 100 {
		return fmt.Errorf("terminal cpu range invalid: [%g, %g]%%", t.Perf.CPUMinPercent, t.Perf.CPUMaxPercent)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive when enabled")
	}
	return nil
}

// LoadLocalConfig loads configuration from ~/.codeterm/config.yaml
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := CodetermDir()
	if err != nil {
		return nil, err
	}
	return LoadLocalConfigFrom(filepath.Join(dir, "config.yaml"))
}

// LoadLocalConfigFrom loads configuration from path, merged over the defaults
func LoadLocalConfigFrom(configPath string) (*LocalConfig, error) {
	// If config doesn't exist, return defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultLocalConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultLocalConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// SaveLocalConfig saves configuration to ~/.codeterm/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureCodetermDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(dir, "config.yaml")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
