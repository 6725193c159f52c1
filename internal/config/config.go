// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig locates input batches, output artifacts and progress state.
type PathsConfig struct {
	InputDir  string `mapstructure:"input_dir"`
	OutputDir string `mapstructure:"output_dir"`
	StateDir  string `mapstructure:"state_dir"`
}

// FetchConfig governs the direct fetcher and scheduler.
type FetchConfig struct {
	TimeoutMs     int     `mapstructure:"timeout_ms"`
	Concurrency   int     `mapstructure:"concurrency"`
	RetryLimit    int     `mapstructure:"retry_limit"`
	BackoffBaseMs int     `mapstructure:"backoff_base_ms"`
	MaxBackoffMs  int     `mapstructure:"max_backoff_ms"`
	PerHostQPS    float64 `mapstructure:"per_host_qps"`
}

// RendererConfig configures the headless rendering subsystem.
type RendererConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	UserAgent      string `mapstructure:"user_agent"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	StableChecks   int    `mapstructure:"stable_checks"`
}

// ServerConfig controls the optional metrics endpoint; an empty listen
// address disables it.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.input_dir", "data/input")
	v.SetDefault("paths.output_dir", "data/datasheets")
	v.SetDefault("paths.state_dir", "data/state")
	v.SetDefault("fetch.timeout_ms", 120000)
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.retry_limit", 3)
	v.SetDefault("fetch.backoff_base_ms", 1000)
	v.SetDefault("fetch.max_backoff_ms", 60000)
	v.SetDefault("fetch.per_host_qps", 0)
	v.SetDefault("renderer.enabled", true)
	v.SetDefault("renderer.nav_timeout_seconds", 45)
	v.SetDefault("renderer.poll_interval_ms", 500)
	v.SetDefault("renderer.stable_checks", 3)
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Paths.InputDir == "" {
		return fmt.Errorf("paths.input_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return fmt.Errorf("paths.output_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir must be set")
	}
	if c.Fetch.TimeoutMs <= 0 {
		return fmt.Errorf("fetch.timeout_ms must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.RetryLimit <= 0 {
		return fmt.Errorf("fetch.retry_limit must be > 0")
	}
	if c.Fetch.BackoffBaseMs <= 0 {
		return fmt.Errorf("fetch.backoff_base_ms must be > 0")
	}
	if c.Renderer.Enabled && c.Renderer.NavTimeoutSec <= 0 {
		return fmt.Errorf("renderer.nav_timeout_seconds must be > 0 when renderer is enabled")
	}
	return nil
}

// RequestTimeout converts the fetch timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// BackoffBase converts the backoff base to a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Fetch.BackoffBaseMs) * time.Millisecond
}

// MaxBackoff converts the backoff cap to a duration.
func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.Fetch.MaxBackoffMs) * time.Millisecond
}

// NavTimeout converts the renderer navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Renderer.NavTimeoutSec) * time.Second
}

// PollInterval converts the renderer poll interval to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Renderer.PollIntervalMs) * time.Millisecond
}
