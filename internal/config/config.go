// Package config loads CropGuard client configuration.
//
// Settings are resolved in the usual precedence order: explicit config file,
// then CROPGUARD_* environment variables, then built-in defaults. The config
// file is YAML, by default ~/.cropguard/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/spf13/viper"
)

// Config is the resolved client configuration.
type Config struct {
	Sync struct {
		Interval           time.Duration `mapstructure:"interval" yaml:"interval"`
		MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
		BatchSize          int           `mapstructure:"batch_size" yaml:"batch_size"`
		ConflictResolution bool          `mapstructure:"conflict_resolution" yaml:"conflict_resolution"`
		Progressive        bool          `mapstructure:"progressive" yaml:"progressive"`
		PrioritizeUrgent   bool          `mapstructure:"prioritize_urgent" yaml:"prioritize_urgent"`
		AutoResolveWindow  time.Duration `mapstructure:"auto_resolve_window" yaml:"auto_resolve_window"`
		RemoveGrace        time.Duration `mapstructure:"remove_grace" yaml:"remove_grace"`
	} `mapstructure:"sync" yaml:"sync"`

	API struct {
		BaseURL string `mapstructure:"base_url" yaml:"base_url"`
		Token   string `mapstructure:"token" yaml:"token"`
	} `mapstructure:"api" yaml:"api"`

	Net struct {
		ProbeURL string        `mapstructure:"probe_url" yaml:"probe_url"`
		Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	} `mapstructure:"net" yaml:"net"`

	Spool struct {
		Dir string `mapstructure:"dir" yaml:"dir"`
	} `mapstructure:"spool" yaml:"spool"`

	DB struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"db" yaml:"db"`

	Dashboard struct {
		Port int `mapstructure:"port" yaml:"port"`
	} `mapstructure:"dashboard" yaml:"dashboard"`

	Log struct {
		File       string `mapstructure:"file" yaml:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	} `mapstructure:"log" yaml:"log"`
}

// Load reads configuration from the given file path. An empty path falls
// back to ~/.cropguard/config.yaml; a missing file is not an error, the
// defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("CROPGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".cropguard"))
			v.SetConfigName("config")
			if err := v.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("failed to read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers the built-in defaults.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".cropguard")

	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.max_retries", sync.MaxAttemptCeiling)
	v.SetDefault("sync.batch_size", sync.DefaultBatchSize)
	v.SetDefault("sync.conflict_resolution", true)
	v.SetDefault("sync.progressive", false)
	v.SetDefault("sync.prioritize_urgent", true)
	v.SetDefault("sync.auto_resolve_window", sync.DefaultAutoResolveWindow)
	v.SetDefault("sync.remove_grace", sync.DefaultRemoveGrace)

	v.SetDefault("api.base_url", "https://api.cropguard.example.com")
	v.SetDefault("api.token", "")

	v.SetDefault("net.probe_url", "https://api.cropguard.example.com/health")
	v.SetDefault("net.interval", 10*time.Second)

	v.SetDefault("spool.dir", filepath.Join(base, "spool"))
	v.SetDefault("db.path", filepath.Join(base, "queue.db"))
	v.SetDefault("dashboard.port", 8790)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Validate checks the resolved configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive (got %v)", c.Sync.Interval)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive (got %d)", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive (got %d)", c.Sync.MaxRetries)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range (got %d)", c.Dashboard.Port)
	}
	return nil
}

// EngineConfig converts the sync section into the engine's config. The
// logger is left nil for the caller to fill in.
func (c *Config) EngineConfig() *sync.Config {
	return &sync.Config{
		SyncInterval:             c.Sync.Interval,
		MaxRetries:               c.Sync.MaxRetries,
		BatchSize:                c.Sync.BatchSize,
		EnableConflictResolution: c.Sync.ConflictResolution,
		EnableProgressiveSync:    c.Sync.Progressive,
		PrioritizeUrgent:         c.Sync.PrioritizeUrgent,
		AutoResolveWindow:        c.Sync.AutoResolveWindow,
		RemoveGrace:              c.Sync.RemoveGrace,
	}
}
