// Package config defines the typed configuration for the governor and its
// viper-backed loader. Values resolve in layers: built-in defaults, an
// optional YAML config file, DRIVEPACER_* environment variables, and flags
// bound by the commands.
package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/drivepacer/drivepacer/internal/core/engine"
)

// Config is the complete application configuration.
type Config struct {
	RC         RCConfig         `mapstructure:"rc" yaml:"rc"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Status     StatusConfig     `mapstructure:"status" yaml:"status"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// RCConfig locates the transfer engine's remote-control endpoint.
type RCConfig struct {
	Host    string        `mapstructure:"host" yaml:"host"`
	Port    int           `mapstructure:"port" yaml:"port"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ControllerConfig holds every controller bound, threshold and cadence.
type ControllerConfig struct {
	MinTransfers  int     `mapstructure:"min_transfers" yaml:"min_transfers"`
	MaxTransfers  int     `mapstructure:"max_transfers" yaml:"max_transfers"`
	InitTransfers int     `mapstructure:"init_transfers" yaml:"init_transfers"`
	MinTPS        float64 `mapstructure:"min_tps" yaml:"min_tps"`
	MaxTPS        float64 `mapstructure:"max_tps" yaml:"max_tps"`
	StableTicks   int     `mapstructure:"stable_ticks" yaml:"stable_ticks"`
	StallTicks    int     `mapstructure:"stall_ticks" yaml:"stall_ticks"`
	StallSpeed    float64 `mapstructure:"stall_speed" yaml:"stall_speed"`

	CooldownPause    time.Duration `mapstructure:"cooldown_pause" yaml:"cooldown_pause"`
	TickInterval     time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	ConnectInterval  time.Duration `mapstructure:"connect_interval" yaml:"connect_interval"`
	ConnectAttempts  int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	MaxFetchFailures int           `mapstructure:"max_fetch_failures" yaml:"max_fetch_failures"`
}

// StatusConfig configures the optional read-only status HTTP server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// LoggingConfig controls the minimum log level (trace..error).
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// FromViper decodes the merged viper state into a Config, clamps the
// controller section into a usable shape and validates the rest.
func FromViper() (*Config, error) {
	cfg, err := Decode()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode unmarshals and clamps the merged viper state without validating
// it, so callers can inspect a config that Validate would reject.
func Decode() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Clamp()
	return cfg, nil
}

// Clamp forces the controller bounds into a usable shape. The controller
// never rejects inputs, so configuration follows the same rule.
func (c *Config) Clamp() {
	ctrl := &c.Controller
	if ctrl.MinTransfers < 1 {
		ctrl.MinTransfers = 1
	}
	if ctrl.MaxTransfers < ctrl.MinTransfers {
		ctrl.MaxTransfers = ctrl.MinTransfers
	}
	if ctrl.InitTransfers < ctrl.MinTransfers {
		ctrl.InitTransfers = ctrl.MinTransfers
	}
	if ctrl.InitTransfers > ctrl.MaxTransfers {
		ctrl.InitTransfers = ctrl.MaxTransfers
	}
	if ctrl.MinTPS <= 0 {
		ctrl.MinTPS = 1
	}
	if ctrl.MaxTPS < ctrl.MinTPS {
		ctrl.MaxTPS = ctrl.MinTPS
	}
	if c.RC.Timeout <= 0 {
		c.RC.Timeout = 5 * time.Second
	}
}

// Validate reports configuration that cannot be clamped into sense.
func (c *Config) Validate() error {
	if c.RC.Port <= 0 || c.RC.Port > 65535 {
		return fmt.Errorf("rc port is required (got %d)", c.RC.Port)
	}
	if c.Controller.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive (got %s)", c.Controller.TickInterval)
	}
	if c.Controller.ConnectAttempts < 1 {
		return fmt.Errorf("connect attempts must be at least 1 (got %d)", c.Controller.ConnectAttempts)
	}
	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status port must be a valid port when the status server is enabled (got %d)", c.Status.Port)
	}
	return nil
}

// Tuning maps the controller section onto the engine's tuning knobs.
func (c *Config) Tuning() engine.Tuning {
	return engine.Tuning{
		MinTransfers:  c.Controller.MinTransfers,
		MaxTransfers:  c.Controller.MaxTransfers,
		MinTPS:        c.Controller.MinTPS,
		MaxTPS:        c.Controller.MaxTPS,
		StableTicks:   c.Controller.StableTicks,
		StallTicks:    c.Controller.StallTicks,
		StallSpeed:    c.Controller.StallSpeed,
		CooldownPause: c.Controller.CooldownPause,
	}
}

// LoopConfig maps the controller section onto the loop cadence.
func (c *Config) LoopConfig() engine.LoopConfig {
	return engine.LoopConfig{
		TickInterval:     c.Controller.TickInterval,
		ConnectInterval:  c.Controller.ConnectInterval,
		ConnectAttempts:  c.Controller.ConnectAttempts,
		MaxFetchFailures: c.Controller.MaxFetchFailures,
	}
}

// Default returns the built-in configuration. It doubles as the template
// for `drivepacer config init`.
func Default() *Config {
	return &Config{
		RC: RCConfig{
			Host:    "127.0.0.1",
			Port:    0,
			Timeout: 5 * time.Second,
		},
		Controller: ControllerConfig{
			MinTransfers:     1,
			MaxTransfers:     4,
			InitTransfers:    2,
			MinTPS:           2,
			MaxTPS:           8,
			StableTicks:      12,
			StallTicks:       6,
			StallSpeed:       100,
			CooldownPause:    30 * time.Second,
			TickInterval:     10 * time.Second,
			ConnectInterval:  time.Second,
			ConnectAttempts:  30,
			MaxFetchFailures: 3,
		},
		Status: StatusConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    8723,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: false, Port: 9090},
	}
}
