// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	QuestionsPath string // empty = built-in question bank
	MatchLimit    int
	Database      DatabaseConfig
	Session       SessionConfig
	Valentine     ValentineConfig
	HealthTimeout time.Duration
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver         string // "sqlite" or "postgres"
	DSN            string
	Path           string // SQLite file, used when DSN is empty
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// SessionConfig controls in-memory conversation state.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MatchCacheTTL time.Duration
}

// ValentineConfig limits valentine sending.
type ValentineConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		QuestionsPath: getEnv("QUESTIONS_PATH", ""),
		MatchLimit:    getEnvInt("MATCH_LIMIT", 5),
		Database: DatabaseConfig{
			Driver:         strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			DSN:            getEnv("DB_DSN", ""),
			Path:           getEnv("DB_PATH", "./data/matchbot.db"),
			MaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			RetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 100*time.Millisecond),
		},
		Session: SessionConfig{
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			MatchCacheTTL: getEnvDuration("MATCH_CACHE_TTL", 7*24*time.Hour),
		},
		Valentine: ValentineConfig{
			RateLimit:  getEnvInt("VALENTINE_RATE_LIMIT", 5),
			RateWindow: getEnvDuration("VALENTINE_RATE_WINDOW", time.Hour),
		},
		HealthTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 2*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Path == "" {
			return fmt.Errorf("DB_PATH or DB_DSN must be set for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN must be set for postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.MaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	if c.MatchLimit <= 0 {
		return fmt.Errorf("MATCH_LIMIT must be > 0")
	}
	if c.Session.IdleTTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Valentine.RateLimit <= 0 || c.Valentine.RateWindow <= 0 {
		return fmt.Errorf("VALENTINE_RATE_LIMIT and VALENTINE_RATE_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
