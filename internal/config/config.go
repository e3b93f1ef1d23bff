// Package config provides configuration management for the surge scanner.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"surge-scanner/internal/errors"
)

// Parameter fallback policies for per-stage numeric parameters that are left
// unset in the stage graph. The choice is explicit and validated; the engine
// never silently picks one.
const (
	FallbackInheritRoot = "inherit_root"
	FallbackStrict      = "strict"
)

// Config holds all application configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Logging LogSettings   `mapstructure:"logging"`
	Store   StoreSettings `mapstructure:"store"`
}

// EngineConfig holds detection-engine tuning parameters.
type EngineConfig struct {
	// CooldownDays is the minimum interval between two root detections of
	// the same ticker+node.
	CooldownDays int `mapstructure:"cooldown_days"`
	// LevelTolerance is the percentage tolerance used by the
	// support/resistance analyzer (0.02 = 2%).
	LevelTolerance float64 `mapstructure:"level_tolerance"`
	// ReversalWindow is the number of prior reversal bars a close must break
	// to flip the reversal-chart direction.
	ReversalWindow int `mapstructure:"reversal_window"`
	// ForwardSpotVolumeRatio is the default volume ratio a forward-spot day
	// must exceed relative to the previous day; per-node params override it.
	ForwardSpotVolumeRatio float64 `mapstructure:"forward_spot_volume_ratio"`
	// ParamFallback selects how missing per-stage parameters are resolved:
	// "inherit_root" falls back to the root node's value, "strict" rejects
	// the graph during validation.
	ParamFallback string `mapstructure:"param_fallback"`
	// Workers bounds the number of tickers scanned concurrently.
	Workers int `mapstructure:"workers"`
}

// LogSettings holds logging configuration.
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// StoreSettings holds persistence configuration.
type StoreSettings struct {
	Path string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/surge-scanner"
	}
	return filepath.Join(home, ".config", "surge-scanner")
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			CooldownDays:           120,
			LevelTolerance:         0.02,
			ReversalWindow:         3,
			ForwardSpotVolumeRatio: 2.0,
			ParamFallback:          FallbackInheritRoot,
			Workers:                4,
		},
		Logging: LogSettings{
			Level:   "info",
			Console: true,
		},
		Store: StoreSettings{
			Path: filepath.Join(DefaultConfigDir(), "scanner.db"),
		},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("engine.cooldown_days", cfg.Engine.CooldownDays)
	v.SetDefault("engine.level_tolerance", cfg.Engine.LevelTolerance)
	v.SetDefault("engine.reversal_window", cfg.Engine.ReversalWindow)
	v.SetDefault("engine.forward_spot_volume_ratio", cfg.Engine.ForwardSpotVolumeRatio)
	v.SetDefault("engine.param_fallback", cfg.Engine.ParamFallback)
	v.SetDefault("engine.workers", cfg.Engine.Workers)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("store.path", cfg.Store.Path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		// Missing file is fine, defaults apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Engine.CooldownDays < 0 {
		return errors.Wrapf(errors.ErrConfigInvalid, "engine.cooldown_days %d", c.Engine.CooldownDays)
	}
	if c.Engine.LevelTolerance < 0 || c.Engine.LevelTolerance >= 1 {
		return errors.Wrapf(errors.ErrConfigInvalid, "engine.level_tolerance %v", c.Engine.LevelTolerance)
	}
	if c.Engine.ReversalWindow < 1 {
		return errors.Wrapf(errors.ErrConfigInvalid, "engine.reversal_window %d", c.Engine.ReversalWindow)
	}
	if c.Engine.ForwardSpotVolumeRatio <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalid, "engine.forward_spot_volume_ratio %v", c.Engine.ForwardSpotVolumeRatio)
	}
	switch c.Engine.ParamFallback {
	case FallbackInheritRoot, FallbackStrict:
	default:
		return errors.Wrapf(errors.ErrConfigInvalid, "engine.param_fallback %q", c.Engine.ParamFallback)
	}
	if c.Engine.Workers < 1 {
		c.Engine.Workers = 1
	}
	return nil
}
