// ABOUTME: Centralized configuration for the threadkeeper store and its entry points
// ABOUTME: Loads from environment variables with validation and defaults
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

// Config holds all configuration for threadkeeper
type Config struct {
	// Storage settings
	DBPath           string
	CheckpointRetain int
	OpenRetries      int
	OpenRetryDelay   time.Duration

	// Usage ledger settings
	DefaultTimezone string
	BypassThrottle  bool

	// Message guard settings
	DedupTTL      time.Duration
	BurstInterval time.Duration
	// SweepInterval is how often a long-running server purges expired messages; 0 disables.
	SweepInterval time.Duration

	// Optional Redis checkpoint cache
	RedisAddr string
	RedisTTL  time.Duration

	// Logging
	LogMode    string
	LogRedact  bool
	LogHashKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:           os.Getenv("THREADKEEPER_DB"),
		CheckpointRetain: getEnvInt("THREADKEEPER_CHECKPOINT_RETAIN", 1),
		OpenRetries:      getEnvInt("THREADKEEPER_OPEN_RETRIES", 3),
		OpenRetryDelay:   getEnvDuration("THREADKEEPER_OPEN_RETRY_DELAY", 250*time.Millisecond),
		DefaultTimezone:  getEnv("THREADKEEPER_DEFAULT_TZ", "UTC"),
		BypassThrottle:   getEnvBool("THREADKEEPER_BYPASS_THROTTLE", false),
		DedupTTL:         getEnvDuration("THREADKEEPER_DEDUP_TTL", 24*time.Hour),
		BurstInterval:    getEnvDuration("THREADKEEPER_BURST_INTERVAL", 2*time.Second),
		SweepInterval:    getEnvDuration("THREADKEEPER_SWEEP_INTERVAL", time.Hour),
		RedisAddr:        os.Getenv("THREADKEEPER_REDIS_ADDR"),
		RedisTTL:         getEnvDuration("THREADKEEPER_REDIS_TTL", 10*time.Minute),
		LogMode:          getEnv("THREADKEEPER_LOG_MODE", "dev"),
		LogRedact:        getEnvBool("THREADKEEPER_LOG_REDACT", true),
		LogHashKey:       os.Getenv("THREADKEEPER_LOG_HASH_SALT"),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.CheckpointRetain < 1 || c.CheckpointRetain > 100 {
		return fmt.Errorf("THREADKEEPER_CHECKPOINT_RETAIN must be 1-100, got %d", c.CheckpointRetain)
	}
	if c.OpenRetries < 0 || c.OpenRetries > 10 {
		return fmt.Errorf("THREADKEEPER_OPEN_RETRIES must be 0-10, got %d", c.OpenRetries)
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("THREADKEEPER_DEDUP_TTL must be positive, got %v", c.DedupTTL)
	}
	if c.BurstInterval < 0 {
		return fmt.Errorf("THREADKEEPER_BURST_INTERVAL must not be negative, got %v", c.BurstInterval)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("THREADKEEPER_SWEEP_INTERVAL must not be negative, got %v", c.SweepInterval)
	}
	if c.RedisTTL <= 0 {
		return fmt.Errorf("THREADKEEPER_REDIS_TTL must be positive, got %v", c.RedisTTL)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("THREADKEEPER_DEFAULT_TZ %q is not a valid timezone: %w", c.DefaultTimezone, err)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
