package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/mmk-jobcoord/config"
)

// InitLogger installs the JSON logger used until configuration is loaded.
func InitLogger() *slog.Logger {
	return installLogger(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// ConfigureLogger swaps in the configured logger and makes it the default.
func ConfigureLogger(cfg *config.AppConfig) *slog.Logger {
	return installLogger(newHandler(os.Stdout, cfg))
}

// newHandler picks text at debug level for development, JSON at LOG_LEVEL otherwise.
func newHandler(w io.Writer, cfg *config.AppConfig) slog.Handler {
	if cfg.IsDev {
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})
}

func installLogger(h slog.Handler) *slog.Logger {
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// parseLevel accepts slog level names ("debug", "WARN", "info+2"); anything else is info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if level.UnmarshalText([]byte(s)) != nil {
		return slog.LevelInfo
	}
	return level
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (config.AppConfig, error) {
	var cfg config.AppConfig
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig rejects unknown service modes and an empty selection.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(enabled) == 0 {
		return errors.New("no services enabled")
	}
	return nil
}

// GetEnabledServices lists enabled modes in declaration order. Invalid
// configuration yields an empty list; ValidateServiceConfig reports it.
func GetEnabledServices(cfg *config.AppConfig) []string {
	out := []string{}
	if cfg == nil {
		return out
	}
	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return out
	}
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			out = append(out, string(mode))
		}
	}
	return out
}
