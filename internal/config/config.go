package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the core runtime configuration for the service.
// Values are sourced from environment variables (optionally via a .env
// file loaded by main). See .env.example.
type Config struct {
	AdminUser     string `env:"APP_ADMIN_USER" envDefault:"admin"`
	AdminPassword string `env:"APP_ADMIN_PASSWORD" envDefault:"changeme"`

	DatabaseURL string `env:"APP_DATABASE_URL"`

	ListenAddr string `env:"APP_LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"APP_LOG_LEVEL" envDefault:"info"`

	// Timezone is the store's calendar zone. Daily, weekly and seasonal
	// buckets are computed in it.
	Timezone string `env:"APP_TIMEZONE" envDefault:"UTC"`

	// NonceSecret signs anti-forgery tokens for the sync endpoints. A random
	// per-process secret is used when empty, so tokens do not survive restarts.
	NonceSecret string `env:"APP_NONCE_SECRET"`

	// Source commerce system (WooCommerce REST API). Sync is disabled when
	// SourceURL is empty.
	SourceURL            string        `env:"APP_SOURCE_URL"`
	SourceConsumerKey    string        `env:"APP_SOURCE_CONSUMER_KEY"`
	SourceConsumerSecret string        `env:"APP_SOURCE_CONSUMER_SECRET"`
	SourcePageSize       int           `env:"APP_SOURCE_PAGE_SIZE" envDefault:"100"`
	SourceTimeout        time.Duration `env:"APP_SOURCE_TIMEOUT" envDefault:"15s"`

	AutoSyncSchedule string        `env:"APP_AUTO_SYNC_SCHEDULE" envDefault:"@every 5m"`
	AutoSyncInterval time.Duration `env:"APP_AUTO_SYNC_INTERVAL" envDefault:"1h"`

	// Store events can also arrive through Kafka. Disabled when no brokers are set.
	KafkaBrokers []string `env:"APP_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"APP_KAFKA_TOPIC" envDefault:"datalens.store-events"`
	KafkaGroup   string   `env:"APP_KAFKA_GROUP" envDefault:"datalens"`

	TrackRateLimit float64 `env:"APP_TRACK_RATE_LIMIT" envDefault:"10"`
	TrackRateBurst int     `env:"APP_TRACK_RATE_BURST" envDefault:"20"`

	location *time.Location
}

// Load parses environment variables and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("APP_DATABASE_URL is required")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc

	if cfg.SourcePageSize <= 0 || cfg.SourcePageSize > 100 {
		cfg.SourcePageSize = 100
	}
	if cfg.AutoSyncInterval <= 0 {
		cfg.AutoSyncInterval = time.Hour
	}
	if cfg.TrackRateBurst <= 0 {
		cfg.TrackRateBurst = 1
	}

	return cfg, nil
}

// Location returns the store calendar zone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// SyncEnabled reports whether a source commerce system is configured.
func (c *Config) SyncEnabled() bool {
	return c.SourceURL != ""
}

// KafkaEnabled reports whether the Kafka store-event consumer should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
