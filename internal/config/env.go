package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// applyEnvironment loads envFile when present (existing variables win) and
// then copies the supported overrides into cfg.
func applyEnvironment(cfg *Config, envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if v := os.Getenv("ABPLAYER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ABPLAYER_LIBRARY"); v != "" {
		cfg.Catalog.LibraryPath = v
	}
	if v := os.Getenv("ABPLAYER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if cfg.Ngrok.AuthToken == "" {
		cfg.Ngrok.AuthToken = os.Getenv("NGROK_AUTHTOKEN")
	}
	return nil
}
