/*
Logic:  Service configuration loaded from environment variables (and
        an optional .env file), mirroring the enumerated options in
        the ingest service's operations contract. Every key is
        overridable by environment variable per that contract.
*/

package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ContentStoragePolicy is the per-project default for how much of a
// trace/span's textual content survives ingest.
type ContentStoragePolicy string

const (
	ContentStorageNone         ContentStoragePolicy = "none"
	ContentStorageMetadataOnly ContentStoragePolicy = "metadata_only"
	ContentStorageFull         ContentStoragePolicy = "full"
)

var (
	errMissingSecret = errors.New("config: AUTH_HMAC_SECRET is required")
	errShortSecret   = errors.New("config: AUTH_HMAC_SECRET must be at least 32 characters")
	errMissingDBPath = errors.New("config: DATABASE_PATH is required")
)

// Config holds all service configuration.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Database
	DatabasePath string

	// Auth
	DefaultHMACSecret string

	// Error pipeline
	ErrorChannelCapacity int
	ErrorFlushBatchSize  int
	ErrorFlushInterval   time.Duration
	SampleReservoirSize  int

	// LLM trace pipeline
	LLMTracingEnabled        bool
	LLMChannelCapacity       int
	LLMFlushBatchSize        int
	LLMFlushInterval         time.Duration
	LLMMaxSpansPerTrace      int
	LLMMaxBatchSize          int
	LLMDefaultContentStorage ContentStoragePolicy

	// Alerting
	AlertChannelCapacity int

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and an optional
// .env file. Missing keys fall back to documented defaults.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("SERVER_GRACEFUL_TIMEOUT_SECS", 10)

	cfg := &Config{
		Addr:            ":" + getEnv("SERVER_PORT", "5332"),
		Env:             getEnv("ENV", "production"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		DatabasePath: getEnv("DATABASE_PATH", "./data/ingest.db"),

		DefaultHMACSecret: getEnv("AUTH_HMAC_SECRET", ""),

		ErrorChannelCapacity: getEnvInt("PIPELINE_CHANNEL_CAPACITY", 8192),
		ErrorFlushBatchSize:  getEnvInt("PIPELINE_FLUSH_BATCH_SIZE", 500),
		ErrorFlushInterval:   time.Duration(getEnvInt("PIPELINE_FLUSH_INTERVAL_SECS", 2)) * time.Second,
		SampleReservoirSize:  getEnvInt("PIPELINE_SAMPLE_RESERVOIR_SIZE", 5),

		LLMTracingEnabled:        getEnvBool("LLM_TRACING_ENABLED", true),
		LLMChannelCapacity:       getEnvInt("LLM_TRACING_CHANNEL_CAPACITY", 4096),
		LLMFlushBatchSize:        getEnvInt("LLM_TRACING_FLUSH_BATCH_SIZE", 200),
		LLMFlushInterval:         time.Duration(getEnvInt("LLM_TRACING_FLUSH_INTERVAL_SECS", 2)) * time.Second,
		LLMMaxSpansPerTrace:      getEnvInt("LLM_TRACING_MAX_SPANS_PER_TRACE", 100),
		LLMMaxBatchSize:          getEnvInt("LLM_TRACING_MAX_BATCH_SIZE", 50),
		LLMDefaultContentStorage: ContentStoragePolicy(getEnv("LLM_TRACING_DEFAULT_CONTENT_STORAGE", string(ContentStorageMetadataOnly))),

		AlertChannelCapacity: getEnvInt("ALERTS_CHANNEL_CAPACITY", 1024),

		MaxBodyBytes: int64(getEnvInt("INGEST_MAX_BODY_BYTES", 32*1024)),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// Validate checks the fatal-at-startup preconditions: a missing or
// too-short HMAC secret, or a missing database path.
func (c *Config) Validate() error {
	if c.DefaultHMACSecret == "" {
		return errMissingSecret
	}
	if len(c.DefaultHMACSecret) < 32 {
		return errShortSecret
	}
	if c.DatabasePath == "" {
		return errMissingDBPath
	}
	return nil
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
