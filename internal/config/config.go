package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// EnvOverrides lists the settings that can be overridden from the
// environment. Unset variables leave the file value in place.
type EnvOverrides struct {
	Port              int    `env:"CODETERM_PORT"`
	Bind              string `env:"CODETERM_BIND"`
	LogLevel          string `env:"CODETERM_LOG_LEVEL"`
	DelayMinMs        int    `env:"CODETERM_DELAY_MIN_MS"`
	DelayMaxMs        int    `env:"CODETERM_DELAY_MAX_MS"`
	MaxIterations     int    `env:"CODETERM_MAX_ITERATIONS"`
	MaxOutputBytes    int    `env:"CODETERM_MAX_OUTPUT_BYTES"`
	SessionTTLMinutes int    `env:"CODETERM_SESSION_TTL_MINUTES"`
	MaxConcurrentRuns int    `env:"CODETERM_MAX_CONCURRENT_RUNS"`
	AMQPURL           string `env:"CODETERM_AMQP_URL"`
	EventsQueue       string `env:"CODETERM_EVENTS_QUEUE"`
	RateLimitEnabled  bool   `env:"CODETERM_RATE_LIMIT_ENABLED"`
	RateLimitRPS      int    `env:"CODETERM_RATE_LIMIT_RPS"`
}

// Load reads ~/.codeterm/config.yaml, applies environment overrides and
// validates the result
func Load() (*LocalConfig, error) {
	cfg, err := LoadLocalConfig()
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays CODETERM_* environment variables onto cfg
func ApplyEnv(cfg *LocalConfig) error {
	env := EnvOverrides{
		Port:              cfg.Daemon.Port,
		Bind:              cfg.Daemon.Bind,
		LogLevel:          cfg.Daemon.LogLevel,
		DelayMinMs:        cfg.Terminal.DelayMinMs,
		DelayMaxMs:        cfg.Terminal.DelayMaxMs,
		MaxIterations:     cfg.Terminal.MaxIterations,
		MaxOutputBytes:    cfg.Terminal.MaxOutputBytes,
		SessionTTLMinutes: cfg.Terminal.SessionTTLMinutes,
		MaxConcurrentRuns: cfg.Terminal.MaxConcurrentRuns,
		AMQPURL:           cfg.Events.AMQPURL,
		EventsQueue:       cfg.Events.Queue,
		RateLimitEnabled:  cfg.RateLimit.Enabled,
		RateLimitRPS:      cfg.RateLimit.RequestsPerSecond,
	}
	if err := cleanenv.ReadEnv(&env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	cfg.Daemon.Port = env.Port
	cfg.Daemon.Bind = env.Bind
	cfg.Daemon.LogLevel = env.LogLevel
	cfg.Terminal.DelayMinMs = env.DelayMinMs
	cfg.Terminal.DelayMaxMs = env.DelayMaxMs
	cfg.Terminal.MaxIterations = env.MaxIterations
	cfg.Terminal.MaxOutputBytes = env.MaxOutputBytes
	cfg.Terminal.SessionTTLMinutes = env.SessionTTLMinutes
	cfg.Terminal.MaxConcurrentRuns = env.MaxConcurrentRuns
	cfg.Events.AMQPURL = env.AMQPURL
	cfg.Events.Queue = env.EventsQueue
	cfg.RateLimit.Enabled = env.RateLimitEnabled
	cfg.RateLimit.RequestsPerSecond = env.RateLimitRPS
	return nil
}
