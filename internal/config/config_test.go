package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Listen != ":8470" {
		t.Errorf("listen = %s, want :8470", cfg.Listen)
	}
	if cfg.Judgment.Model != "gemini-2.0-flash" {
		t.Errorf("model = %s", cfg.Judgment.Model)
	}
	if cfg.Evaluation.MinHours != 1.0 || cfg.Evaluation.MaxHours != 3.0 {
		t.Errorf("evaluation window = %.1f..%.1f", cfg.Evaluation.MinHours, cfg.Evaluation.MaxHours)
	}
	if cfg.Archive.Enabled {
		t.Error("archive must be disabled by default")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "critgate.yaml")

	cfg := DefaultConfig()
	cfg.Listen = ":9999"
	cfg.Judgment.StrictMode = true
	cfg.Evaluation.BaseTokenAmount = 250
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Listen != ":9999" {
		t.Errorf("listen = %s, want :9999", loaded.Listen)
	}
	if !loaded.Judgment.StrictMode {
		t.Error("strict_mode not persisted")
	}
	if loaded.Evaluation.BaseTokenAmount != 250 {
		t.Errorf("base_token_amount = %d, want 250", loaded.Evaluation.BaseTokenAmount)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("CRITGATE_LISTEN", ":7000")
	t.Setenv("CRITGATE_LOG_LEVEL", "debug")
	t.Setenv("CRITGATE_ARCHIVE_PATH", "/tmp/archive.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Judgment.APIKey != "key-from-env" {
		t.Errorf("api key = %s", cfg.Judgment.APIKey)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Path != "/tmp/archive.db" {
		t.Errorf("archive override not applied: %+v", cfg.Archive)
	}
}

func TestGoogleAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "fallback-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Judgment.APIKey != "fallback-key" {
		t.Errorf("api key = %s, want fallback-key", cfg.Judgment.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"inverted window", func(c *Config) { c.Evaluation.MinHours = 3; c.Evaluation.MaxHours = 1 }, true},
		{"zero min hours", func(c *Config) { c.Evaluation.MinHours = 0 }, true},
		{"negative base tokens", func(c *Config) { c.Evaluation.BaseTokenAmount = -1 }, true},
		{"multiplier below one", func(c *Config) { c.Evaluation.MaxMultiplier = 0.5 }, true},
		{"crossed thresholds", func(c *Config) { c.Evaluation.AcceptableThreshold = 95 }, true},
		{"bad timeout", func(c *Config) { c.Judgment.Timeout = "soon" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestJudgmentTimeout(t *testing.T) {
	cfg := DefaultConfig()
	d, err := cfg.JudgmentTimeout()
	if err != nil || d != 20*time.Second {
		t.Errorf("timeout = %v err = %v, want 20s", d, err)
	}

	cfg.Judgment.Timeout = ""
	d, err = cfg.JudgmentTimeout()
	if err != nil || d != 20*time.Second {
		t.Errorf("empty timeout = %v err = %v, want 20s default", d, err)
	}
}
