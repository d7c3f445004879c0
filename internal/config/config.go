// Package config holds all critgate configuration: a YAML file with
// environment-variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all critgate configuration.
type Config struct {
	Name   string `yaml:"name"`
	Listen string `yaml:"listen"`

	Judgment   JudgmentConfig   `yaml:"judgment"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// JudgmentConfig configures the external judgment service client.
type JudgmentConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Timeout    string `yaml:"timeout"`
	StrictMode bool   `yaml:"strict_mode"` // stage 2 mandatory on every ingestion
}

// EvaluationConfig configures the consultant and its scheduler.
type EvaluationConfig struct {
	MinHours            float64 `yaml:"min_hours"`
	MaxHours            float64 `yaml:"max_hours"`
	DueHours            float64 `yaml:"due_hours"`
	BaseTokenAmount     int     `yaml:"base_token_amount"`
	ExcellentThreshold  float64 `yaml:"excellent_threshold"`
	AcceptableThreshold float64 `yaml:"acceptable_threshold"`
	MaxMultiplier       float64 `yaml:"max_multiplier"`
	FearRisePerHour     float64 `yaml:"fear_rise_per_hour"`
	FearReductionFactor float64 `yaml:"fear_reduction_factor"`
}

// ArchiveConfig configures the optional SQLite archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:   "critgate",
		Listen: ":8470",
		Judgment: JudgmentConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "20s",
		},
		Evaluation: EvaluationConfig{
			MinHours:            1.0,
			MaxHours:            3.0,
			DueHours:            1.0,
			BaseTokenAmount:     100,
			ExcellentThreshold:  90,
			AcceptableThreshold: 60,
			MaxMultiplier:       2.0,
			FearRisePerHour:     0.1,
			FearReductionFactor: 1.0,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Path:    "critgate.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path (defaults apply for a missing file)
// and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets environment variables win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Judgment.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Judgment.APIKey = v
	}
	if v := os.Getenv("CRITGATE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CRITGATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CRITGATE_ARCHIVE_PATH"); v != "" {
		c.Archive.Path = v
		c.Archive.Enabled = true
	}
}

// Validate checks the loaded configuration for nonsense.
func (c *Config) Validate() error {
	e := c.Evaluation
	if e.MinHours <= 0 || e.MaxHours < e.MinHours {
		return fmt.Errorf("evaluation window is malformed: min=%.2f max=%.2f", e.MinHours, e.MaxHours)
	}
	if e.BaseTokenAmount < 0 {
		return fmt.Errorf("base_token_amount must not be negative")
	}
	if e.MaxMultiplier < 1.0 {
		return fmt.Errorf("max_multiplier must be at least 1.0")
	}
	if e.AcceptableThreshold > e.ExcellentThreshold {
		return fmt.Errorf("acceptable_threshold exceeds excellent_threshold")
	}
	if _, err := c.JudgmentTimeout(); err != nil {
		return err
	}
	return nil
}

// JudgmentTimeout parses the judgment call timeout.
func (c *Config) JudgmentTimeout() (time.Duration, error) {
	if c.Judgment.Timeout == "" {
		return 20 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Judgment.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid judgment timeout %q: %w", c.Judgment.Timeout, err)
	}
	return d, nil
}
