// Package config loads and validates service configuration from the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds the complete service configuration.
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Session verification store (required).
	RedisURL string `env:"REDIS_URL"`

	// Shared secret guarding the internal publish API (required).
	InternalAPIKey string `env:"INTERNAL_API_KEY"`

	// Optional Kafka ingest for job-pipeline events. Disabled when no
	// brokers are configured.
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" default:"pipeline-events"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" default:"vibecheck-notify"`

	// Connection admission limits.
	MaxWebSocketConnections int64   `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRatePerIP     float64 `env:"CONNECTION_RATE_PER_IP" default:"10"`
	ConnectionBurstPerIP    int     `env:"CONNECTION_BURST_PER_IP" default:"10"`
	MaxConnectionsPerUser   int     `env:"MAX_CONNECTIONS_PER_USER" default:"5"`

	// Handshake and liveness timing.
	AuthTimeout   time.Duration `env:"AUTH_TIMEOUT" default:"10s"`
	PingInterval  time.Duration `env:"PING_INTERVAL" default:"30s"`
	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT" default:"5m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" default:"60s"`

	// Offline message buffering.
	BufferMaxPerUser int           `env:"BUFFER_MAX_PER_USER" default:"100"`
	BufferTTL        time.Duration `env:"BUFFER_TTL" default:"5m"`

	// Threshold for the on-demand memory-pressure eviction.
	MemoryPressureIdleThreshold time.Duration `env:"MEMORY_PRESSURE_IDLE_THRESHOLD" default:"1m"`
}

// Load reads configuration from the environment, applying a .env file if
// one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if cfg.InternalAPIKey == "" {
		return fmt.Errorf("INTERNAL_API_KEY is required")
	}
	if len(cfg.InternalAPIKey) < 16 {
		return fmt.Errorf("INTERNAL_API_KEY must be at least 16 characters")
	}
	if cfg.MaxConnectionsPerUser < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_USER must be at least 1")
	}
	if cfg.BufferMaxPerUser < 1 {
		return fmt.Errorf("BUFFER_MAX_PER_USER must be at least 1")
	}
	if cfg.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive")
	}
	if cfg.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be positive")
	}
	if cfg.IdleTimeout < cfg.PingInterval {
		return fmt.Errorf("IDLE_TIMEOUT must not be shorter than PING_INTERVAL")
	}
	return nil
}
