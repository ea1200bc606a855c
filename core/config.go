package core

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ShutdownStrategy decides who disposes a session when its owner goes away.
type ShutdownStrategy string

const (
	// ShutdownScheduler disposes the session automatically on Registry.OwnerDisabled.
	ShutdownScheduler ShutdownStrategy = "scheduler"
	// ShutdownManual leaves disposal to the host (Session.DisposeSession or Registry.Dispose).
	ShutdownManual ShutdownStrategy = "manual"
)

const (
	defaultShutdownGracePeriod = 5 * time.Second
	defaultBindTimeout         = 5 * time.Second
)

// Config configures a Registry and every session it creates.
// Handler fields are optional; defaults are applied by the registry.
type Config struct {
	// WorkerCount is the size of each session's worker pool. <= 0 means one per CPU.
	WorkerCount int `yaml:"worker_count"`

	ShutdownStrategy ShutdownStrategy `yaml:"shutdown_strategy"`

	// ShutdownGracePeriod bounds how long disposal waits for running worker steps.
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`

	// BindTimeout bounds how long a bridge caller waits for an unbound primary
	// context to run a task handed off to it before failing with
	// ErrPrimaryUnbound. Tasks that never need the primary are not bounded.
	BindTimeout time.Duration `yaml:"bind_timeout"`

	// HistoryCapacity is the number of finished tasks each session remembers.
	HistoryCapacity int `yaml:"history_capacity"`

	// Logger defaults to DefaultLogger.
	Logger Logger `yaml:"-"`

	// Metrics defaults to NilMetrics.
	Metrics Metrics `yaml:"-"`

	// Sink receives uncaught failures. Defaults to a LoggerSink on Logger.
	Sink ExceptionSink `yaml:"-"`

	// Host supplies the primary and worker primitives. When nil the registry
	// runs its own primary goroutine and each session owns a worker pool.
	Host HostScheduler `yaml:"-"`
}

// DefaultConfig returns a config with every field defaulted.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.ShutdownStrategy == "" {
		c.ShutdownStrategy = ShutdownScheduler
	}
	if c.ShutdownGracePeriod <= 0 {
		c.ShutdownGracePeriod = defaultShutdownGracePeriod
	}
	if c.BindTimeout <= 0 {
		c.BindTimeout = defaultBindTimeout
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaultTaskHistoryCapacity
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.Sink == nil {
		c.Sink = &LoggerSink{Logger: c.Logger}
	}
}

// Validate checks the fields that can be set from YAML.
func (c Config) Validate() error {
	switch c.ShutdownStrategy {
	case "", ShutdownScheduler, ShutdownManual:
	default:
		return fmt.Errorf("invalid shutdown_strategy %q (want %q or %q)", c.ShutdownStrategy, ShutdownScheduler, ShutdownManual)
	}
	if c.ShutdownGracePeriod < 0 {
		return fmt.Errorf("shutdown_grace_period must not be negative")
	}
	if c.BindTimeout < 0 {
		return fmt.Errorf("bind_timeout must not be negative")
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig reads a YAML config file. ${VAR} references are expanded from
// the environment before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses YAML config data and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	interpolated := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}
