// Package config reads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	StoreDriver    string
	DatabaseURL    string
	ServerPort     string
	AllowedOrigins []string
	JWTSecret      string

	LogLevel  string
	LogFormat string

	RedisAddress       string
	RedisEventsChannel string

	ShipmentReservationTTL time.Duration
	BatchReservationTTL    time.Duration
	SweepInterval          time.Duration
	SweepBatchSize         int
}

// Load reads the environment. Call godotenv.Load first if a .env file should apply.
func Load() (*Config, error) {
	cfg := &Config{
		StoreDriver:        getenv("STORE_DRIVER", StoreMemory),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ServerPort:         getenv("SERVER_PORT", "8080"),
		AllowedOrigins:     splitList(getenv("ALLOWED_ORIGINS", "http://localhost:3000")),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogFormat:          getenv("LOG_FORMAT", "json"),
		RedisAddress:       os.Getenv("REDIS_ADDRESS"),
		RedisEventsChannel: getenv("REDIS_EVENTS_CHANNEL", "warehouse.events"),
	}

	var err error
	if cfg.ShipmentReservationTTL, err = durationEnv("SHIPMENT_RESERVATION_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.BatchReservationTTL, err = durationEnv("BATCH_RESERVATION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = intEnv("SWEEP_BATCH_SIZE", 100); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, cfg.StoreDriver)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if cfg.SweepBatchSize <= 0 {
		return nil, fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, v)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
