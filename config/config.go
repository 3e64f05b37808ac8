// Package config loads the service configuration from environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	berr "github.com/next-trace/scg-room-booking/contract/errors"
	"github.com/next-trace/scg-room-booking/eventbus"
)

type Storage string

const (
	StorageMemory   Storage = "memory"
	StoragePostgres Storage = "postgres"
	StorageSQLite   Storage = "sqlite"
)

type Config struct {
	HTTPAddr        string          `env:"HTTP_ADDR" envDefault:":3000"`
	LogLevel        string          `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string          `env:"LOG_FORMAT" envDefault:"text"`
	Rooms           []string        `env:"ROOMS" envSeparator:"," envDefault:"Room 1,Room 2,Room 3"`
	Storage         Storage         `env:"STORAGE" envDefault:"memory"`
	PostgresDSN     string          `env:"POSTGRES_DSN"`
	SQLitePath      string          `env:"SQLITE_PATH" envDefault:"booking.db"`
	ShutdownTimeout time.Duration   `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CommandTimeout  time.Duration   `env:"COMMAND_TIMEOUT" envDefault:"5s"`
	EventBus        eventbus.Config `envPrefix:"EVENT_BUS_"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the storage selection and its settings.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%w: POSTGRES_DSN is required for postgres storage", berr.ErrStorageConfig)
		}
	case StorageSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: SQLITE_PATH is required for sqlite storage", berr.ErrStorageConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", berr.ErrStorageConfig, c.Storage)
	}

	return nil
}

// Logger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
