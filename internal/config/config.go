package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ServiceName    = "reservation-service"
	ServiceVersion = "0.1.0"
)

// Kafka configuration constants
const (
	CheckoutEventsTopic    = "CheckoutEvents"
	StockAdjustedTopic     = "StockAdjusted"
	ReservationEventsTopic = "ReservationEvents"
	LowStockAlertsTopic    = "LowStockAlerts"
	GroupID                = "reservation-service-group"
	BatchTimeout           = 10 * time.Millisecond
	BatchSize              = 100
)

const (
	LogsPath      = "/otlp/v1/logs"   // Grafana Cloud OTLP path
	TracesPath    = "/otlp/v1/traces" // Grafana Cloud OTLP path
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

// Config holds environment-specific configuration
type Config struct {
	KafkaBroker string

	// Telemetry export is disabled when OtelEndpoint is empty.
	OtelEndpoint   string
	OtelAuthHeader string

	// DatabaseURL is optional; without it the ledger lives only in memory.
	DatabaseURL string
	HTTPAddr    string

	DefaultReservationTTL time.Duration
	MaxReservationTTL     time.Duration
	SweepInterval         time.Duration
	CheckpointInterval    time.Duration

	NotifierQueueSize  int
	NotifierMaxRetries int
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables take precedence over it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		KafkaBroker:    getEnvOrDefault("KAFKA_BROKER", "localhost:9092"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		HTTPAddr:       getEnvOrDefault("HTTP_ADDR", ":8080"),
	}

	var err error
	if cfg.DefaultReservationTTL, err = durationEnv("RESERVATION_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxReservationTTL, err = durationEnv("MAX_RESERVATION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CheckpointInterval, err = durationEnv("CHECKPOINT_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.NotifierQueueSize, err = intEnv("NOTIFIER_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.NotifierMaxRetries, err = intEnv("NOTIFIER_MAX_RETRIES", 5); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.KafkaBroker == "" {
		return fmt.Errorf("KAFKA_BROKER cannot be empty")
	}
	if c.OtelEndpoint != "" && c.OtelAuthHeader == "" {
		return fmt.Errorf("OTEL_AUTH_HEADER is required when OTEL_ENDPOINT is set")
	}
	if c.DefaultReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive")
	}
	if c.MaxReservationTTL < c.DefaultReservationTTL {
		return fmt.Errorf("MAX_RESERVATION_TTL cannot be below RESERVATION_TTL")
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}
	if c.CheckpointInterval < time.Second {
		return fmt.Errorf("CHECKPOINT_INTERVAL must be at least 1s")
	}
	if c.NotifierQueueSize <= 0 {
		return fmt.Errorf("NOTIFIER_QUEUE_SIZE must be positive")
	}
	if c.NotifierMaxRetries < 0 {
		return fmt.Errorf("NOTIFIER_MAX_RETRIES cannot be negative")
	}
	return nil
}

// TelemetryEnabled reports whether OTLP export is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.OtelEndpoint != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
