// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/loanreport/ownership-engine/internal/ownership"
)

// Config holds application configuration
type Config struct {
	Port                 string
	DatabaseURL          string
	RedisURL             string
	CacheTTL             time.Duration
	PlatformConfigURL    string
	PlatformConfigReload string // cron spec, empty disables scheduled reloads
	LoansFile            string // optional seed for the in-memory store
	OwnershipStep        int
	DefaultOwner         string
	CORSOrigins          []string
	LogLevel             string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		CacheTTL:             getEnvAsDuration("CACHE_TTL", 30*time.Second),
		PlatformConfigURL:    getEnv("PLATFORM_CONFIG_URL", ""),
		PlatformConfigReload: getEnv("PLATFORM_CONFIG_RELOAD", ""),
		LoansFile:            getEnv("LOANS_FILE", ""),
		OwnershipStep:        getEnvAsInt("OWNERSHIP_STEP", 5),
		DefaultOwner:         getEnv("DEFAULT_OWNER", "jeff"),
		CORSOrigins:          getEnvAsList("CORS_ORIGINS", []string{"*"}),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be a number, got %q", c.Port)
	}
	if c.OwnershipStep <= 0 || c.OwnershipStep > 100 {
		return fmt.Errorf("OWNERSHIP_STEP must be between 1 and 100, got %d", c.OwnershipStep)
	}
	if ownership.IsMarket(c.DefaultOwner) {
		return fmt.Errorf("DEFAULT_OWNER cannot be the reserved %s owner", ownership.MarketUser)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		return fmt.Errorf("REDIS_URL requires DATABASE_URL")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
