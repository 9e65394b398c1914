package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the taskworker process's environment, parsed once at
// startup. It governs wiring only — the task package itself never
// reads the environment.
type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	MongoURI string `env:"MONGO_URI,required" validate:"required"`
	MongoDB  string `env:"MONGO_DATABASE" envDefault:"taskforge" validate:"required"`

	Parallel     int `env:"TASK_PARALLEL" envDefault:"5" validate:"min=1,max=100"`
	PollIntervalMS int `env:"POLL_INTERVAL_MS" envDefault:"1000" validate:"min=50,max=60000"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// JWTSecret signs and verifies bearer tokens for the admin HTTP API
	// (schedule / cancelTask). Required once the admin API is enabled.
	JWTSecret string `env:"JWT_SECRET"`

	// ResendAPIKey/ResendFrom configure operator failure notifications.
	// Required outside local dev, where notifications are just logged.
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
