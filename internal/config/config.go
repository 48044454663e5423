// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	// Embedded zone database so TIMEZONE resolves on minimal images.
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"

	"github.com/Shivanand-hulikatti/campus-events/internal/database"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Port  string `env:"PORT"  envDefault:"8080"`
	Store string `env:"STORE" envDefault:"postgres"`

	DB       database.Config
	RedisURL string `env:"REDIS_URL"`

	CertificateThreshold float64       `env:"CERTIFICATE_THRESHOLD" envDefault:"75"`
	SubscriberBuffer     int           `env:"SUBSCRIBER_BUFFER"     envDefault:"64"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT"       envDefault:"15s"`

	// Timezone is the campus zone whose calendar days bound registration
	// deadlines, as an IANA name such as Asia/Kolkata.
	Timezone *time.Location `env:"TIMEZONE" envDefault:"UTC"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	WebDir string `env:"WEB_DIR" envDefault:"./web"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.CertificateThreshold < 0 || c.CertificateThreshold > 100 {
		return fmt.Errorf("CERTIFICATE_THRESHOLD must be between 0 and 100, got %v", c.CertificateThreshold)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive, got %d", c.SubscriberBuffer)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.Timezone == nil {
		return fmt.Errorf("TIMEZONE is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewLogger builds the process logger: JSON when LOG_FORMAT=json, text otherwise.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
