// Package config loads configuration from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all server and worker configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Metadata store
	MongoURI      string
	MongoDatabase string

	// Session store / job queue
	RedisAddr string

	// Content storage root. Blobs and their derived variants live here.
	FolderPath string

	// Sessions
	SessionTTL time.Duration

	// Worker
	WorkerConcurrency int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":5000"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		MongoURI:          envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     envOr("MONGO_DATABASE", "files_manager"),
		RedisAddr:         envOr("REDIS_ADDR", "localhost:6379"),
		FolderPath:        envOr("FOLDER_PATH", filepath.Join(os.TempDir(), "files_manager")),
		SessionTTL:        time.Duration(envInt("SESSION_TTL", 24*3600)) * time.Second,
		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 4),
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
