package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string                 `yaml:"log_level"`
	LogFile       string                 `yaml:"log_file"`
	Database      string                 `yaml:"database"`
	API           APIConfig              `yaml:"api"`
	Observability ObservabilityConfig    `yaml:"observability"`
	Sources       SourcesConfig          `yaml:"sources"`
	Retention     RetentionConfig        `yaml:"retention"`
	Active        ActiveConfig           `yaml:"active"`
	Quotas        map[string]QuotaConfig `yaml:"quotas"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

type ObservabilityConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
	Pprof   bool   `yaml:"pprof"`
}

type SourcesConfig struct {
	Proxy     ProxySourceConfig     `yaml:"proxy"`
	WireGuard WireGuardSourceConfig `yaml:"wireguard"`
}

type ProxySourceConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalSec int    `yaml:"interval"`
	Paused      bool   `yaml:"paused"`
	StatsURL    string `yaml:"stats_url"`
	APIToken    string `yaml:"api_token"`
	TimeoutSec  int    `yaml:"timeout"`
}

type WireGuardSourceConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalSec int    `yaml:"interval"`
	Paused      bool   `yaml:"paused"`
	Device      string `yaml:"device"`
	TimeoutSec  int    `yaml:"timeout"`
}

type RetentionConfig struct {
	Days               int  `yaml:"days"`
	AggregateAfterDays int  `yaml:"aggregate_after_days"`
	IntervalSec        int  `yaml:"interval"`
	PruneBuckets       bool `yaml:"prune_buckets"`
}

type ActiveConfig struct {
	WindowSec      int   `yaml:"window"`
	ThresholdBytes int64 `yaml:"threshold_bytes"`
}

type QuotaConfig struct {
	LimitBytes int64  `yaml:"limit_bytes"`
	Period     string `yaml:"period"`    // "monthly" or "total"
	ResetDay   int    `yaml:"reset_day"` // 1-31, monthly only
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Database == "" {
		cfg.Database = "panel.sqlite"
	}

	if !cfg.Sources.Proxy.Enabled && !cfg.Sources.WireGuard.Enabled {
		return nil, fmt.Errorf("at least one traffic source must be enabled")
	}
	if cfg.Sources.Proxy.Enabled {
		if cfg.Sources.Proxy.StatsURL == "" {
			return nil, fmt.Errorf("sources.proxy: stats_url is required")
		}
		if cfg.Sources.Proxy.IntervalSec <= 0 {
			cfg.Sources.Proxy.IntervalSec = 60
		}
		if cfg.Sources.Proxy.TimeoutSec <= 0 {
			cfg.Sources.Proxy.TimeoutSec = 10
		}
	}
	if cfg.Sources.WireGuard.Enabled {
		if cfg.Sources.WireGuard.Device == "" {
			cfg.Sources.WireGuard.Device = "wg0"
		}
		if cfg.Sources.WireGuard.IntervalSec <= 0 {
			cfg.Sources.WireGuard.IntervalSec = 60
		}
		if cfg.Sources.WireGuard.TimeoutSec <= 0 {
			cfg.Sources.WireGuard.TimeoutSec = 10
		}
	}

	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = 90
	}
	if cfg.Retention.AggregateAfterDays <= 0 {
		cfg.Retention.AggregateAfterDays = 14
	}
	if cfg.Retention.AggregateAfterDays >= cfg.Retention.Days {
		return nil, fmt.Errorf("retention: aggregate_after_days (%d) must be less than days (%d)",
			cfg.Retention.AggregateAfterDays, cfg.Retention.Days)
	}
	if cfg.Retention.IntervalSec <= 0 {
		cfg.Retention.IntervalSec = 86400
	}

	if cfg.Active.WindowSec <= 0 {
		cfg.Active.WindowSec = 300
	}
	if cfg.Active.ThresholdBytes <= 0 {
		cfg.Active.ThresholdBytes = 1024
	}

	if cfg.API.Listen != "" && cfg.API.Token == "" {
		return nil, fmt.Errorf("api: token is required when listen is set")
	}

	return &cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SourceInterval returns the sampling interval for source ("proxy" or
// "wireguard"). Unknown sources fall back to one minute.
func (c *Config) SourceInterval(source string) time.Duration {
	switch source {
	case "proxy":
		return time.Duration(c.Sources.Proxy.IntervalSec) * time.Second
	case "wireguard":
		return time.Duration(c.Sources.WireGuard.IntervalSec) * time.Second
	}
	return time.Minute
}

// SourcePaused reports whether sampling for source starts out paused.
func (c *Config) SourcePaused(source string) bool {
	switch source {
	case "proxy":
		return c.Sources.Proxy.Paused
	case "wireguard":
		return c.Sources.WireGuard.Paused
	}
	return false
}

// SourceTimeout returns the collector call timeout for source.
func (c *Config) SourceTimeout(source string) time.Duration {
	switch source {
	case "proxy":
		return time.Duration(c.Sources.Proxy.TimeoutSec) * time.Second
	case "wireguard":
		return time.Duration(c.Sources.WireGuard.TimeoutSec) * time.Second
	}
	return 10 * time.Second
}
