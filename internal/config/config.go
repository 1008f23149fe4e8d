package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Player   PlayerConfig   `toml:"player"`
	Spectrum SpectrumConfig `toml:"spectrum"`
	Level    LevelConfig    `toml:"level"`
	Logging  LoggingConfig  `toml:"logging"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
	Native   NativeConfig   `toml:"native"`
}

// PlayerConfig contains transport and audio graph settings
type PlayerConfig struct {
	SettleDelayMS   int     `toml:"settle_delay_ms" json:"settleDelayMs"`
	ResumeTimeoutMS int     `toml:"resume_timeout_ms" json:"resumeTimeoutMs"`
	FFTSize         int     `toml:"fft_size" json:"fftSize"`
	Smoothing       float64 `toml:"smoothing" json:"smoothing"`
}

// SpectrumConfig contains spectrum visualizer settings
type SpectrumConfig struct {
	Bars        int     `toml:"bars" json:"bars"`
	BinFraction float64 `toml:"bin_fraction" json:"binFraction"`
	CapDecay    float64 `toml:"cap_decay" json:"capDecay"`
	BarScale    float64 `toml:"bar_scale" json:"barScale"`
	BarFill     float64 `toml:"bar_fill" json:"barFill"`
	CapOffset   float64 `toml:"cap_offset" json:"capOffset"`
	CapHeight   float64 `toml:"cap_height" json:"capHeight"`
}

// LevelConfig contains level-match settings
type LevelConfig struct {
	Policy         string  `toml:"policy" json:"policy"` // fixed or measured
	FallbackFactor float64 `toml:"fallback_factor" json:"fallbackFactor"`
	MinFactor      float64 `toml:"min_factor" json:"minFactor"`
	MaxFactor      float64 `toml:"max_factor" json:"maxFactor"`
	AnalysisPoints int     `toml:"analysis_points" json:"analysisPoints"`
	CalibrationDB  float64 `toml:"calibration_db" json:"calibrationDb"` // display only
	UnknownLabel   string  `toml:"unknown_label" json:"unknownLabel"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// CatalogConfig contains library configuration for the local content source
type CatalogConfig struct {
	LibraryPath      string   `toml:"library_path"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
	AnalyzeLoudness  bool     `toml:"analyze_loudness"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	StaticDir   string `toml:"static_dir"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
	CacheTTL    int    `toml:"cache_ttl_seconds"`
}

// AuthConfig contains preview access configuration
type AuthConfig struct {
	Enabled       bool   `toml:"enabled"`
	UsersFilePath string `toml:"users_file"`
	Realm         string `toml:"realm"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled    bool   `toml:"enabled"`
	AuthToken  string `toml:"auth_token"`
	Domain     string `toml:"domain"`
	Region     string `toml:"region"`
	EnableAuth bool   `toml:"enable_auth"`
	Provider   string `toml:"auth_provider"`
}

// NativeConfig contains desktop playback settings
type NativeConfig struct {
	SampleRate int `toml:"sample_rate"`
	FrameRate  int `toml:"frame_rate"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Player: PlayerConfig{
			SettleDelayMS:   200,
			ResumeTimeoutMS: 2000,
			FFTSize:         256,
			Smoothing:       0.5,
		},
		Spectrum: SpectrumConfig{
			Bars:        64,
			BinFraction: 0.8,
			CapDecay:    1.2,
			BarScale:    0.8,
			BarFill:     0.8,
			CapOffset:   4,
			CapHeight:   2,
		},
		Level: LevelConfig{
			Policy:         "fixed",
			FallbackFactor: 0.6,
			MinFactor:      0.1,
			MaxFactor:      1.0,
			AnalysisPoints: 20000,
			CalibrationDB:  -0.691,
			UnknownLabel:   "-- LUFS",
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Catalog: CatalogConfig{
			LibraryPath:      "./library",
			SupportedFormats: []string{".flac", ".mp3", ".wav"},
			WatchForChanges:  true,
			ScanOnStartup:    true,
			AnalyzeLoudness:  true,
		},
		Database: DatabaseConfig{
			Path:           "./abplayer.db",
			MaxConnections: 5,
		},
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			StaticDir:   "./static",
			EnableCORS:  true,
			ReadTimeout: 30,
			CacheTTL:    60,
		},
		Auth: AuthConfig{
			Enabled:       false,
			UsersFilePath: "./users.toml",
			Realm:         "abplayer",
		},
		Ngrok: NgrokConfig{
			Enabled:    false,
			AuthToken:  "",
			Domain:     "",
			Region:     "us",
			EnableAuth: false,
			Provider:   "google",
		},
		Native: NativeConfig{
			SampleRate: 44100,
			FrameRate:  60,
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies .env and
// environment overrides
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvironment(cfg, ".env"); err != nil {
		return nil, err
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# abplayer configuration
# Engine settings ([player], [spectrum], [level]) are shared by the
# desktop player and served to browser players via /api/config.
# level.calibration_db only shifts the displayed loudness figure.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Player.validate(); err != nil {
		return err
	}
	if err := c.Spectrum.validate(); err != nil {
		return err
	}
	if err := c.Level.validate(); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Catalog.LibraryPath == "" {
		return fmt.Errorf("catalog library path cannot be empty")
	}
	if len(c.Catalog.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Auth.Enabled && c.Auth.UsersFilePath == "" {
		return fmt.Errorf("auth users file cannot be empty when auth is enabled")
	}
	if c.Native.SampleRate <= 0 || c.Native.FrameRate <= 0 {
		return fmt.Errorf("native sample rate and frame rate must be positive")
	}

	return nil
}

func (p PlayerConfig) validate() error {
	if p.SettleDelayMS < 0 {
		return fmt.Errorf("player settle delay cannot be negative")
	}
	// Web Audio accepts powers of two between 32 and 32768
	if p.FFTSize < 32 || p.FFTSize > 32768 || p.FFTSize&(p.FFTSize-1) != 0 {
		return fmt.Errorf("invalid fft size: %d (must be a power of two in [32, 32768])", p.FFTSize)
	}
	if p.Smoothing < 0 || p.Smoothing > 1 {
		return fmt.Errorf("player smoothing must be within [0, 1]")
	}
	return nil
}

func (s SpectrumConfig) validate() error {
	if s.Bars < 1 {
		return fmt.Errorf("spectrum needs at least one bar")
	}
	if s.BinFraction <= 0 || s.BinFraction > 1 {
		return fmt.Errorf("spectrum bin fraction must be within (0, 1]")
	}
	if s.CapDecay < 0 {
		return fmt.Errorf("spectrum cap decay cannot be negative")
	}
	if s.BarScale <= 0 || s.BarScale > 1 || s.BarFill <= 0 || s.BarFill > 1 {
		return fmt.Errorf("spectrum bar scale and fill must be within (0, 1]")
	}
	return nil
}

func (l LevelConfig) validate() error {
	if l.Policy != "fixed" && l.Policy != "measured" {
		return fmt.Errorf("invalid level policy: %s (must be fixed or measured)", l.Policy)
	}
	if l.MinFactor <= 0 || l.MinFactor > l.MaxFactor || l.MaxFactor > 1 {
		return fmt.Errorf("level factor bounds must satisfy 0 < min <= max <= 1")
	}
	if l.FallbackFactor < l.MinFactor || l.FallbackFactor > l.MaxFactor {
		return fmt.Errorf("level fallback factor %.2f outside [%.2f, %.2f]", l.FallbackFactor, l.MinFactor, l.MaxFactor)
	}
	if l.AnalysisPoints < 1 {
		return fmt.Errorf("level analysis points must be at least 1")
	}
	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Catalog.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}

// SettleDelay is how long to wait after both renditions load before the
// duration is trusted.
func (p PlayerConfig) SettleDelay() time.Duration {
	return time.Duration(p.SettleDelayMS) * time.Millisecond
}

// ResumeTimeout bounds how long a suspended audio context may take to resume.
func (p PlayerConfig) ResumeTimeout() time.Duration {
	return time.Duration(p.ResumeTimeoutMS) * time.Millisecond
}
