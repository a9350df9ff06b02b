package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr             string `env:"API_ADDR" envDefault:":8787"`
	DatabaseURL      string `env:"DATABASE_URL" envDefault:"sqlite://./data/peerlearn.db"`
	JWTSecret        string `env:"PEERLEARN_JWT_SECRET" envDefault:"peerlearn-dev-secret"`
	CORSOrigin       string `env:"PEERLEARN_CORS_ORIGIN" envDefault:"*"`
	MaintenanceToken string `env:"PEERLEARN_MAINTENANCE_TOKEN"`
	// Redis is optional; empty disables the hidden-set cache.
	RedisURL       string        `env:"REDIS_URL"`
	HiddenCacheTTL time.Duration `env:"PEERLEARN_HIDDEN_CACHE_TTL" envDefault:"10m"`
	// Meeting service; empty URL selects the in-process provisioner.
	MeetingServiceURL   string        `env:"MEETING_SERVICE_URL"`
	MeetingServiceToken string        `env:"MEETING_SERVICE_TOKEN"`
	MeetingJoinBaseURL  string        `env:"MEETING_JOIN_BASE_URL" envDefault:"http://localhost:8787/meet"`
	MeetingTimeout      time.Duration `env:"MEETING_TIMEOUT" envDefault:"5s"`

	DefaultGroupSize int    `env:"PEERLEARN_DEFAULT_GROUP_SIZE" envDefault:"4"`
	MaxGroupSize     int    `env:"PEERLEARN_MAX_GROUP_SIZE" envDefault:"12"`
	StoreRetries     uint   `env:"PEERLEARN_STORE_RETRIES" envDefault:"3"`
	PageSize         int    `env:"PEERLEARN_PAGE_SIZE" envDefault:"50"`
	OTelEndpoint     string `env:"PEERLEARN_OTEL_ENDPOINT"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
}

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

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.DefaultGroupSize < 2 {
		errs = append(errs, fmt.Errorf("PEERLEARN_DEFAULT_GROUP_SIZE must be at least 2, got %d", c.DefaultGroupSize))
	}
	if c.MaxGroupSize < 2 {
		errs = append(errs, fmt.Errorf("PEERLEARN_MAX_GROUP_SIZE must be at least 2, got %d", c.MaxGroupSize))
	}
	if c.DefaultGroupSize > c.MaxGroupSize {
		errs = append(errs, fmt.Errorf("PEERLEARN_DEFAULT_GROUP_SIZE (%d) exceeds PEERLEARN_MAX_GROUP_SIZE (%d)", c.DefaultGroupSize, c.MaxGroupSize))
	}
	if c.MeetingTimeout <= 0 {
		errs = append(errs, errors.New("MEETING_TIMEOUT must be positive"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.New("PEERLEARN_PAGE_SIZE must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps LOG_LEVEL onto a slog level.
func ParseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
