package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DevSessionSecret is used when SESSION_SECRET is unset. It must not be used
// outside local development.
const DevSessionSecret = "mockdash-dev-secret-change-me"

type Config struct {
	// HTTP Server
	Port          string `yaml:"port"`
	SecureCookies bool   `yaml:"secure_cookies"`

	// Backend selection
	DataBackend string `yaml:"data_backend"`

	// Database
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	// Redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisPrefix   string `yaml:"redis_prefix"`

	// PostgreSQL
	PostgresDSN string `yaml:"postgres_dsn"`

	// AMQP (optional, empty URL disables event publishing)
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueue    string `yaml:"amqp_queue"`

	// Identity. Session tokens never expire; SessionTTL and MaxSessions only
	// bound the active-tab tracker behind /metrics.
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	MaxSessions   int           `yaml:"max_sessions"`

	// Dashboard
	Locale               string        `yaml:"locale"`
	Timezone             string        `yaml:"timezone"`
	FeedTTL              time.Duration `yaml:"feed_ttl"`
	FeedRefreshBuffer    time.Duration `yaml:"feed_refresh_buffer"`
	CountRefreshInterval time.Duration `yaml:"count_refresh_interval"`
	AmountPushInterval   time.Duration `yaml:"amount_push_interval"`

	// Worker
	StatsInterval time.Duration `yaml:"stats_interval"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Port:                 "8081",
		DataBackend:          "memory",
		SQLiteDBPath:         "./data/mockdash.db",
		RedisAddr:            "localhost:6379",
		RedisPrefix:          "mockdash",
		AMQPExchange:         "mockdash",
		AMQPQueue:            "dashboard_events",
		SessionSecret:        DevSessionSecret,
		SessionTTL:           30 * time.Minute,
		MaxSessions:          10000,
		Locale:               "en",
		FeedTTL:              3 * time.Minute,
		FeedRefreshBuffer:    500 * time.Millisecond,
		CountRefreshInterval: 60 * time.Second,
		AmountPushInterval:   2 * time.Second,
		StatsInterval:        5 * time.Minute,
		LogLevel:             "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE when set, then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.SecureCookies = getEnvBool("COOKIE_SECURE", cfg.SecureCookies)
	cfg.DataBackend = getEnv("DATA_BACKEND", cfg.DataBackend)
	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisPrefix = getEnv("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.SessionSecret = getEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.MaxSessions = getEnvInt("MAX_SESSIONS", cfg.MaxSessions)

	cfg.Locale = getEnv("LOCALE", cfg.Locale)
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.FeedTTL = getEnvDuration("FEED_TTL", cfg.FeedTTL)
	cfg.FeedRefreshBuffer = getEnvDuration("FEED_REFRESH_BUFFER", cfg.FeedRefreshBuffer)
	cfg.CountRefreshInterval = getEnvDuration("COUNT_REFRESH_INTERVAL", cfg.CountRefreshInterval)
	cfg.AmountPushInterval = getEnvDuration("AMOUNT_PUSH_INTERVAL", cfg.AmountPushInterval)
	cfg.StatsInterval = getEnvDuration("STATS_INTERVAL", cfg.StatsInterval)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

// Location resolves Timezone, defaulting to the process's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite", "redis", "postgres"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "redis":
		if c.RedisAddr == "" {
			errors = append(errors, "Redis address cannot be empty when using redis backend")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "PostgreSQL DSN cannot be empty when using postgres backend")
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(c.SessionSecret) < 16 {
		errors = append(errors, "session secret must be at least 16 characters")
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.MaxSessions < 1 {
		errors = append(errors, fmt.Sprintf("invalid max sessions %d: must be at least 1", c.MaxSessions))
	}

	if _, err := language.Parse(c.Locale); err != nil {
		errors = append(errors, fmt.Sprintf("invalid locale '%s': %v", c.Locale, err))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.FeedTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid feed TTL %v: must be at least 1 second", c.FeedTTL))
	}
	if c.FeedRefreshBuffer < 0 {
		errors = append(errors, fmt.Sprintf("invalid feed refresh buffer %v: must not be negative", c.FeedRefreshBuffer))
	}
	if c.CountRefreshInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid count refresh interval %v: must be at least 1 second", c.CountRefreshInterval))
	}
	if c.AmountPushInterval < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid amount push interval %v: must be at least 100ms", c.AmountPushInterval))
	}
	if c.StatsInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid stats interval %v: must be at least 1 second", c.StatsInterval))
	} else if c.StatsInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid stats interval %v: must be at most 24 hours", c.StatsInterval))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
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
