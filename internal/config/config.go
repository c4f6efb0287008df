// Package config loads daemon configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything tunable about the daemon. Durations accept any
// Go duration string in the config file ("15m", "24h").
type Config struct {
	DataDir         string        `mapstructure:"data_dir"`
	LogPath         string        `mapstructure:"log_path"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	HookInterval    time.Duration `mapstructure:"hook_interval"`
	PenaltyDuration time.Duration `mapstructure:"penalty_duration"`
	IntegritySlack  time.Duration `mapstructure:"integrity_slack"`
	GraceExpiry     time.Duration `mapstructure:"grace_expiry"`
}

// Load reads $HOME/.commitd/config.yaml, overridable via COMMITD_* env vars.
// A missing config file is fine; defaults cover everything.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	baseDir := filepath.Join(home, ".commitd")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(baseDir)
	v.SetEnvPrefix("COMMITD")
	v.AutomaticEnv()

	v.SetDefault("data_dir", filepath.Join(baseDir, "data"))
	v.SetDefault("log_path", filepath.Join(baseDir, "commitd.log"))
	v.SetDefault("tick_interval", "15m")
	v.SetDefault("hook_interval", "10s")
	v.SetDefault("penalty_duration", "24h")
	v.SetDefault("integrity_slack", "60s")
	v.SetDefault("grace_expiry", "168h")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.HookInterval <= 0 {
		return fmt.Errorf("hook_interval must be positive, got %s", c.HookInterval)
	}
	if c.PenaltyDuration <= 0 {
		return fmt.Errorf("penalty_duration must be positive, got %s", c.PenaltyDuration)
	}
	return nil
}
