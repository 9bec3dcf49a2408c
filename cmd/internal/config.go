package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the CLI configuration
type Config struct {
	APIURL    string
	WebURL    string
	UserAgent string

	StorePath     string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PollInterval time.Duration
	MaxWait      time.Duration
	LogLevel     slog.Level
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		UserAgent:    "devicepair-cli",
		PollInterval: 3 * time.Second,
		MaxWait:      5 * time.Minute,
		LogLevel:     slog.LevelInfo,
	}

	// Load DEVICEPAIR_API_URL (required)
	cfg.APIURL = os.Getenv("DEVICEPAIR_API_URL")
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("DEVICEPAIR_API_URL environment variable is required")
	}

	// Load DEVICEPAIR_WEB_URL (required)
	cfg.WebURL = os.Getenv("DEVICEPAIR_WEB_URL")
	if cfg.WebURL == "" {
		return nil, fmt.Errorf("DEVICEPAIR_WEB_URL environment variable is required")
	}

	if ua := os.Getenv("DEVICEPAIR_USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}

	// Load DEVICEPAIR_STORE_PATH (optional, defaults under the user config dir)
	cfg.StorePath = os.Getenv("DEVICEPAIR_STORE_PATH")
	if cfg.StorePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.StorePath = filepath.Join(dir, "devicepair", "credentials.json")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	if v := os.Getenv("DEVICEPAIR_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("DEVICEPAIR_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("DEVICEPAIR_MAX_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("DEVICEPAIR_MAX_WAIT: %w", err)
		}
		cfg.MaxWait = d
	}

	// Load LOG_LEVEL (optional: debug, info, warn, error)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}
