package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
	if cfg.Spectrum.Bars != 64 {
		t.Errorf("Spectrum.Bars = %d, want 64", cfg.Spectrum.Bars)
	}
	if cfg.Level.FallbackFactor != 0.6 {
		t.Errorf("Level.FallbackFactor = %v, want 0.6", cfg.Level.FallbackFactor)
	}
	if got := cfg.Player.SettleDelay(); got != 200*time.Millisecond {
		t.Errorf("SettleDelay() = %v, want 200ms", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"fft not power of two", func(c *Config) { c.Player.FFTSize = 300 }, "fft size"},
		{"fft too small", func(c *Config) { c.Player.FFTSize = 16 }, "fft size"},
		{"smoothing out of range", func(c *Config) { c.Player.Smoothing = 1.5 }, "smoothing"},
		{"no bars", func(c *Config) { c.Spectrum.Bars = 0 }, "bar"},
		{"bin fraction zero", func(c *Config) { c.Spectrum.BinFraction = 0 }, "bin fraction"},
		{"unknown policy", func(c *Config) { c.Level.Policy = "lufs" }, "policy"},
		{"fallback above max", func(c *Config) { c.Level.FallbackFactor = 1.2 }, "fallback"},
		{"inverted bounds", func(c *Config) { c.Level.MinFactor = 0.9; c.Level.MaxFactor = 0.5 }, "bounds"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"empty library", func(c *Config) { c.Catalog.LibraryPath = "" }, "library"},
		{"auth without users file", func(c *Config) { c.Auth.Enabled = true; c.Auth.UsersFilePath = "" }, "users file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
	if cfg.Player.FFTSize != 256 {
		t.Errorf("Player.FFTSize = %d, want 256", cfg.Player.FFTSize)
	}
}

func TestLoadConfigRoundTripsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[level]
policy = "measured"
fallback_factor = 0.5
min_factor = 0.1
max_factor = 1.0
analysis_points = 500
calibration_db = -3.0
unknown_label = "n/a"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Level.Policy != "measured" {
		t.Errorf("Level.Policy = %q, want measured", cfg.Level.Policy)
	}
	if cfg.Level.CalibrationDB != -3.0 {
		t.Errorf("Level.CalibrationDB = %v, want -3", cfg.Level.CalibrationDB)
	}
	// Sections absent from the file keep their defaults
	if cfg.Spectrum.CapDecay != 1.2 {
		t.Errorf("Spectrum.CapDecay = %v, want 1.2", cfg.Spectrum.CapDecay)
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[player\nfft_size = ="), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() expected parse error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ABPLAYER_LOG_LEVEL", "debug")
	t.Setenv("ABPLAYER_LIBRARY", "/srv/pairs")
	t.Setenv("NGROK_AUTHTOKEN", "token-from-env")

	cfg := DefaultConfig()
	if err := applyEnvironment(cfg, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("applyEnvironment() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Catalog.LibraryPath != "/srv/pairs" {
		t.Errorf("Catalog.LibraryPath = %q, want /srv/pairs", cfg.Catalog.LibraryPath)
	}
	if cfg.Ngrok.AuthToken != "token-from-env" {
		t.Errorf("Ngrok.AuthToken = %q, want token-from-env", cfg.Ngrok.AuthToken)
	}
}

func TestNewLogger(t *testing.T) {
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger()
	if logger.GetLevel() != logrus.WarnLevel {
		t.Errorf("logger level = %v, want warn", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("logger formatter = %T, want *logrus.JSONFormatter", logger.Formatter)
	}
}
