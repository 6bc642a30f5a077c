// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Storage  StorageConfig
	Crawler  CrawlerConfig
	Schedule ScheduleConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver       string // postgres or sqlite
	URL          string
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration. An empty Addr keeps run status in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// NATSConfig holds NATS configuration. An empty URL disables catalog events.
type NATSConfig struct {
	URL    string
	Stream string
}

// StorageConfig holds object storage configuration. An empty Endpoint disables snapshots.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// CrawlerConfig holds crawler configuration.
type CrawlerConfig struct {
	BaseURL        string
	RootPath       string
	Sections       []string
	UserAgent      string
	RateLimit      float64
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	AddressTimeout time.Duration
	UseBrowser     bool
	RenderTimeout  time.Duration
	SettleDelay    time.Duration
	IdleWindow     time.Duration
	RenderReserve  time.Duration
	SquadBuilder   bool
	TitleSuffixes  []string
	Sweep          bool
}

// ScheduleConfig holds the crawl schedule.
type ScheduleConfig struct {
	At         string // HH:MM
	Timezone   string
	RunOnStart bool
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Load loads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			URL:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("DB_HOST", ""),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "sbc_catalog"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:   getEnv("SQLITE_PATH", "sbc_catalog.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 2*time.Hour),
		},
		NATS: NATSConfig{
			URL:    getEnv("NATS_URL", ""),
			Stream: getEnv("NATS_STREAM", "CATALOG"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", ""),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", ""),
			BucketName:      getEnv("STORAGE_BUCKET", "sbc-snapshots"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
		},
		Crawler: CrawlerConfig{
			BaseURL:        strings.TrimRight(getEnv("CATALOG_BASE_URL", "https://www.fut.gg"), "/"),
			RootPath:       getEnv("CATALOG_ROOT_PATH", "/sbc/"),
			Sections:       getEnvAsList("CATALOG_SECTIONS", []string{"live", "players", "icons", "upgrades", "foundations"}),
			UserAgent:      getEnv("CRAWLER_USER_AGENT", DefaultUserAgent),
			RateLimit:      getEnvAsFloat("CRAWLER_RATE_LIMIT", 1),
			RequestTimeout: getEnvAsDuration("CRAWLER_REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:     getEnvAsInt("CRAWLER_MAX_RETRIES", 2),
			RetryDelay:     getEnvAsDuration("CRAWLER_RETRY_DELAY", 2*time.Second),
			AddressTimeout: getEnvAsDuration("CRAWLER_ADDRESS_TIMEOUT", 2*time.Minute),
			UseBrowser:     getEnvAsBool("CRAWLER_USE_BROWSER", true),
			RenderTimeout:  getEnvAsDuration("CRAWLER_RENDER_TIMEOUT", 45*time.Second),
			SettleDelay:    getEnvAsDuration("CRAWLER_SETTLE_DELAY", 1500*time.Millisecond),
			IdleWindow:     getEnvAsDuration("CRAWLER_IDLE_WINDOW", 500*time.Millisecond),
			RenderReserve:  getEnvAsDuration("CRAWLER_RENDER_RESERVE", 10*time.Second),
			SquadBuilder:   getEnvAsBool("CRAWLER_SQUAD_BUILDER", true),
			TitleSuffixes:  getEnvAsList("CRAWLER_TITLE_SUFFIXES", []string{" | FUT.GG", " - FUT.GG", "FUT.GG - "}),
			Sweep:          getEnvAsBool("CRAWLER_SWEEP", true),
		},
		Schedule: ScheduleConfig{
			At:         getEnv("SCHEDULE_AT", "18:00"),
			Timezone:   getEnv("SCHEDULE_TIMEZONE", "Europe/London"),
			RunOnStart: getEnvAsBool("SCHEDULE_RUN_ON_START", true),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that are present. Optional collaborators may stay unset.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", c.Database.Driver)
	}

	base, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid CATALOG_BASE_URL %q", c.Crawler.BaseURL)
	}
	if !strings.HasPrefix(c.Crawler.RootPath, "/") {
		return fmt.Errorf("CATALOG_ROOT_PATH must start with /: %q", c.Crawler.RootPath)
	}
	if c.Crawler.RateLimit <= 0 {
		return fmt.Errorf("CRAWLER_RATE_LIMIT must be positive")
	}
	if c.Crawler.RequestTimeout <= 0 || c.Crawler.AddressTimeout <= 0 || c.Crawler.RenderTimeout <= 0 {
		return fmt.Errorf("crawler timeouts must be positive")
	}

	if _, _, err := c.Schedule.Clock(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", c.Schedule.Timezone, err)
	}

	return nil
}

// Configured reports whether enough is set to open a database.
func (c *DatabaseConfig) Configured() bool {
	if c.Driver == "sqlite" {
		return c.SQLitePath != ""
	}
	return c.URL != "" || c.Host != ""
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.SQLitePath
	}
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Clock parses At into hour and minute.
func (c *ScheduleConfig) Clock() (hour, minute uint, err error) {
	t, err := time.Parse("15:04", c.At)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid SCHEDULE_AT %q (want HH:MM): %w", c.At, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
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
