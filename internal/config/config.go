// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Fields are populated from environment variables.
type Config struct {
	// Server settings
	Port int    // HTTP port to listen on
	Env  string // development, staging, production

	// Local tier
	LocalStore   string // sqlite, badger, memory
	DatabasePath string // Path to SQLite file
	BadgerDir    string // Directory for the badger store

	// Cloud tier
	CloudStore    string // none, redis, file
	RedisAddr     string // host:port of the shared Redis
	RedisPassword string // AUTH password, if any
	RedisPrefix   string // Namespace for the Redis hash and channel
	CloudFile     string // JSON document inside a synced folder

	// Calendar
	Timezone string // IANA zone civil days are counted in

	// Authentication
	APIKey string // API key for authenticated endpoints

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
	LogFile   string // Rotated log file; stdout when empty
}

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Local store backends
const (
	LocalSQLite = "sqlite"
	LocalBadger = "badger"
	LocalMemory = "memory"
)

// Cloud store backends
const (
	CloudNone  = "none"
	CloudRedis = "redis"
	CloudFile  = "file"
)

// Load reads configuration from environment variables.
// In development, it first loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}

	// Server settings
	cfg.Port = getEnvInt("PORT", 8080)
	cfg.Env = getEnv("ENV", EnvDevelopment)

	// Local tier
	cfg.LocalStore = getEnv("LOCAL_STORE", LocalSQLite)
	cfg.DatabasePath = getEnv("DATABASE_PATH", "./data/mcheyne.db")
	cfg.BadgerDir = getEnv("BADGER_DIR", "./data/badger")

	// Cloud tier
	cfg.CloudStore = getEnv("CLOUD_STORE", CloudNone)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisPrefix = getEnv("REDIS_PREFIX", "mcheyne")
	cfg.CloudFile = getEnv("CLOUD_FILE", "")

	cfg.Timezone = getEnv("TIMEZONE", "Local")

	// Authentication
	cfg.APIKey = getEnv("API_KEY", "")

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")
	cfg.LogFile = getEnv("LOG_FILE", "")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}

	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// Valid
	default:
		errs = append(errs, fmt.Errorf("ENV must be one of: development, staging, production; got %q", c.Env))
	}

	switch c.LocalStore {
	case LocalSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("DATABASE_PATH is required when LOCAL_STORE=sqlite"))
		}
	case LocalBadger:
		if c.BadgerDir == "" {
			errs = append(errs, errors.New("BADGER_DIR is required when LOCAL_STORE=badger"))
		}
	case LocalMemory:
		// Valid
	default:
		errs = append(errs, fmt.Errorf("LOCAL_STORE must be one of: sqlite, badger, memory; got %q", c.LocalStore))
	}

	switch c.CloudStore {
	case CloudNone:
		// Valid
	case CloudRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when CLOUD_STORE=redis"))
		}
	case CloudFile:
		if c.CloudFile == "" {
			errs = append(errs, errors.New("CLOUD_FILE is required when CLOUD_STORE=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("CLOUD_STORE must be one of: none, redis, file; got %q", c.CloudStore))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err))
	}

	// API key is required in production
	if c.Env == EnvProduction && c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required in production"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error; got %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "json", "text":
		// Valid
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be one of: json, text; got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Location resolves Timezone. An empty value or "Local" is the system zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// getEnv reads an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt reads an environment variable as an integer with a default fallback.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
