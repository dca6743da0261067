// Package config provides environment-based configuration for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
type Config struct {
	// Database configuration
	DatabaseDSN string `yaml:"database_dsn"`

	// Authentication
	JWTSecret string `yaml:"jwt_secret"`

	// Backing object store
	StoreEndpoint      string        `yaml:"store_endpoint"`
	StoreHeaderTimeout time.Duration `yaml:"store_header_timeout"`

	// Server configuration
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Usage recording configuration
	Usage UsageConfig `yaml:"usage"`
}

// RateLimitConfig holds rate limiter thresholds. The normal tier applies two
// ceilings (per-minute plus a short burst window); the suspicious tier applies
// a single stricter ceiling.
type RateLimitConfig struct {
	NormalPerMinute     int           `yaml:"normal_per_minute"`
	BurstLimit          int           `yaml:"burst_limit"`
	BurstWindow         time.Duration `yaml:"burst_window"`
	SuspiciousPerMinute int           `yaml:"suspicious_per_minute"`
	DefaultSecretPerMin int           `yaml:"default_secret_per_minute"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

// UsageConfig holds usage recorder configuration.
type UsageConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Load reads configuration from environment variables, with an optional YAML
// overlay file pointed at by TIDESTORE_CONFIG applied first.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("TIDESTORE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := defaults()
	cfg.JWTSecret = getEnv("JWT_SECRET", "development-secret-key-min-32-chars")
	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	return &Config{
		DatabaseDSN:        "postgres://localhost:5432/tidestore?sslmode=disable",
		StoreEndpoint:      "http://localhost:8180",
		StoreHeaderTimeout: 30 * time.Second,
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		RateLimit: RateLimitConfig{
			NormalPerMinute:     60,
			BurstLimit:          20,
			BurstWindow:         10 * time.Second,
			SuspiciousPerMinute: 10,
			DefaultSecretPerMin: 60,
			SweepInterval:       5 * time.Minute,
		},
		Usage: UsageConfig{
			QueueSize:    1024,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// applyEnv overrides configuration from environment variables.
func (c *Config) applyEnv() {
	c.DatabaseDSN = getEnv("DATABASE_URL", c.DatabaseDSN)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.StoreEndpoint = getEnv("STORE_ENDPOINT", c.StoreEndpoint)
	c.StoreHeaderTimeout = getDurationEnv("STORE_HEADER_TIMEOUT", c.StoreHeaderTimeout)
	c.Host = getEnv("HOST", c.Host)
	c.Port = getIntEnv("PORT", c.Port)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.RateLimit.NormalPerMinute = getIntEnv("RATE_LIMIT_NORMAL_PER_MINUTE", c.RateLimit.NormalPerMinute)
	c.RateLimit.BurstLimit = getIntEnv("RATE_LIMIT_BURST_LIMIT", c.RateLimit.BurstLimit)
	c.RateLimit.BurstWindow = getDurationEnv("RATE_LIMIT_BURST_WINDOW", c.RateLimit.BurstWindow)
	c.RateLimit.SuspiciousPerMinute = getIntEnv("RATE_LIMIT_SUSPICIOUS_PER_MINUTE", c.RateLimit.SuspiciousPerMinute)
	c.RateLimit.DefaultSecretPerMin = getIntEnv("RATE_LIMIT_DEFAULT_SECRET_PER_MINUTE", c.RateLimit.DefaultSecretPerMin)
	c.RateLimit.SweepInterval = getDurationEnv("RATE_LIMIT_SWEEP_INTERVAL", c.RateLimit.SweepInterval)

	c.Usage.QueueSize = getIntEnv("USAGE_QUEUE_SIZE", c.Usage.QueueSize)
	c.Usage.WriteTimeout = getDurationEnv("USAGE_WRITE_TIMEOUT", c.Usage.WriteTimeout)
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.StoreEndpoint == "" {
		return fmt.Errorf("STORE_ENDPOINT is required")
	}
	if c.RateLimit.NormalPerMinute <= 0 || c.RateLimit.BurstLimit <= 0 || c.RateLimit.SuspiciousPerMinute <= 0 {
		return fmt.Errorf("rate limit ceilings must be positive")
	}
	if c.Usage.QueueSize <= 0 {
		return fmt.Errorf("usage queue size must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
