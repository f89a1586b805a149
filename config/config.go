// Package config loads the demo/admin binary's configuration from
// environment variables and an optional .env file. The library
// packages (pulling, sequential) are never configured from the
// environment directly — callers build their EngineConfig/
// ProcessorConfig as Go values; this package only configures
// cmd/feedpuller.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the demo binary's configuration values.
type Config struct {
	// Server
	AdminAddr       string
	Env             string
	GracefulTimeout time.Duration

	// Redis (optional; advisory analytics sink only)
	RedisURL     string
	RedisEnabled bool

	// Pulling engine tuning
	TickInterval    time.Duration
	ResponseWorkers int
	DefaultTimeout  time.Duration

	// Sequential processor tuning
	ShardCount     int
	StallThreshold time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("FEEDPULL_GRACEFUL_TIMEOUT_SEC", 5)
	defaultTimeoutSec := getEnvInt("FEEDPULL_DEFAULT_TIMEOUT_SEC", 30)
	tickMs := getEnvInt("FEEDPULL_TICK_INTERVAL_MS", 100)
	stallMs := getEnvInt("FEEDPULL_STALL_THRESHOLD_MS", 2000)

	cfg := &Config{
		AdminAddr:       getEnv("FEEDPULL_ADMIN_ADDR", ":8090"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		RedisURL:        getEnv("REDIS_URL", "redis://redis:6379"),
		RedisEnabled:    getEnvBool("FEEDPULL_REDIS_ENABLED", false),
		TickInterval:    time.Duration(tickMs) * time.Millisecond,
		ResponseWorkers: getEnvInt("FEEDPULL_RESPONSE_WORKERS", 8),
		DefaultTimeout:  time.Duration(defaultTimeoutSec) * time.Second,
		ShardCount:      getEnvInt("FEEDPULL_SHARD_COUNT", 100000),
		StallThreshold:  time.Duration(stallMs) * time.Millisecond,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
