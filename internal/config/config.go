// Package config provides configuration for the ingestd binaries.
package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the worker and the admin CLI.
type Config struct {
	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	// Database settings
	DatabaseURL string

	// Sync tuning
	MaxConcurrentUnits int
	PageSize           int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("INGESTD_TASK_QUEUE", "ingestd"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		MaxConcurrentUnits: getEnvInt("INGESTD_MAX_CONCURRENT_UNITS", 8),
		PageSize:           getEnvInt("INGESTD_PAGE_SIZE", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
