// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Shared blacklist mirror (optional, single-instance if not set)

	// Detection tables
	ToolkitTablePath string // TOML override for the toolkit signature table
	DecoyTablePath   string // TOML override for the decoy resource table
	WatchTables      bool   // Hot-reload table files on change

	// Deception
	DecoyMinDelay time.Duration
	DecoyMaxDelay time.Duration

	// Escalation
	EscalationPolicy string   // "flag" or "block" for suspicion threshold breaches
	Allowlist        []string // Trusted source ids / CIDR blocks, comma-separated in env
	AlertWebhookURL  string   // Optional webhook for blacklist escalations

	// Client profiles
	ProfileSamplesPerChannel int
	ProfileIdleTimeout       time.Duration
	ProfileMaxEntries        int

	// Security
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string // Optional, tracing is a no-op if not set
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultRateLimit        = 100
	DefaultEscalationPolicy = "flag"
	DefaultProfileSamples   = 500
	DefaultProfileEntries   = 10000
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:              os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:                 os.Getenv("REDIS_URL"),
		ToolkitTablePath:         getEnv("TOOLKIT_TABLE_PATH", "configs/toolkits.toml"),
		DecoyTablePath:           getEnv("DECOY_TABLE_PATH", "configs/decoys.toml"),
		WatchTables:              getEnvBool("WATCH_TABLES", true),
		DecoyMinDelay:            getEnvDuration("DECOY_MIN_DELAY", time.Second),
		DecoyMaxDelay:            getEnvDuration("DECOY_MAX_DELAY", 4*time.Second),
		EscalationPolicy:         getEnv("ESCALATION_POLICY", DefaultEscalationPolicy),
		Allowlist:                getEnvList("ALLOWLIST"),
		AlertWebhookURL:          os.Getenv("ALERT_WEBHOOK_URL"),
		ProfileSamplesPerChannel: int(getEnvInt64("PROFILE_SAMPLES_PER_CHANNEL", DefaultProfileSamples)),
		ProfileIdleTimeout:       getEnvDuration("PROFILE_IDLE_TIMEOUT", 30*time.Minute),
		ProfileMaxEntries:        int(getEnvInt64("PROFILE_MAX_ENTRIES", DefaultProfileEntries)),
		RateLimitRPS:             int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:             os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.EscalationPolicy != "flag" && c.EscalationPolicy != "block" {
		return fmt.Errorf("ESCALATION_POLICY must be \"flag\" or \"block\", got %q", c.EscalationPolicy)
	}

	if c.DecoyMinDelay <= 0 {
		return fmt.Errorf("DECOY_MIN_DELAY must be positive")
	}
	if c.DecoyMaxDelay < c.DecoyMinDelay {
		return fmt.Errorf("DECOY_MAX_DELAY must be at least DECOY_MIN_DELAY")
	}

	if c.ProfileSamplesPerChannel <= 0 {
		return fmt.Errorf("PROFILE_SAMPLES_PER_CHANNEL must be positive")
	}
	if c.ProfileMaxEntries <= 0 {
		return fmt.Errorf("PROFILE_MAX_ENTRIES must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
