// Package config provides configuration for the run coordinator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the coordinator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Run management
	MaxConcurrentRuns int
	IdleTimeout       time.Duration
	LogDir            string

	// Analysis process
	AnalysisCmd string

	// Database
	DatabaseURL string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// Load loads configuration from environment variables. MAX_CONCURRENT_RUNS
// and IDLE_TIMEOUT_SECONDS have no defaults; their absence is a startup
// failure.
func Load() (*Config, error) {
	maxConcurrent, err := requireEnvInt("MAX_CONCURRENT_RUNS")
	if err != nil {
		return nil, err
	}
	idleTimeout, err := requireEnvInt("IDLE_TIMEOUT_SECONDS")
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8000),
		MaxConcurrentRuns: maxConcurrent,
		IdleTimeout:       time.Duration(idleTimeout) * time.Second,
		LogDir:            getEnv("LOG_DIR", "./logs"),
		AnalysisCmd:       getEnv("ANALYSIS_CMD", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "file:shepherd.db?cache=shared&mode=rwc"),
		PingInterval:      time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:      time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:       time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:    int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
	}, nil
}

func requireEnvInt(key string) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return intVal, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
