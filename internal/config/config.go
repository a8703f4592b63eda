package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPPort     string
	StoreBackend string

	DBHost string
	DBPort string
	DBName string
	DBUser string
	DBPass string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CatalogBaseURL string
	CatalogTTL     time.Duration
	MarkerTTL      time.Duration

	NotifyWebhookURL  string
	WebhookSecret     string
	RazorpayKeySecret string
	SupportEmail      string
	CurrencySymbol    string
	// CookieSecure marks the session cookie Secure; set it behind TLS.
	CookieSecure bool

	LogLevel string
	LogDev   bool

	FlowsFile string
	Flows     []Flow
}

// Load reads .env (when present) and the environment, then the flows file.
// Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	c := &Config{
		HTTPPort:     env("HTTP_PORT", "8083"),
		StoreBackend: strings.ToLower(env("STORE_BACKEND", BackendMemory)),

		DBHost: env("DB_HOST", "localhost"),
		DBPort: env("DB_PORT", "5432"),
		DBName: env("DB_NAME", "storefront"),
		DBUser: env("DB_USER", "storefront"),
		DBPass: env("DB_PASS", "storefront"),

		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD"),

		CatalogBaseURL: strings.TrimRight(env("CATALOG_BASE_URL", "http://localhost:5000"), "/"),

		NotifyWebhookURL:  env("NOTIFY_WEBHOOK_URL", ""),
		WebhookSecret:     env("WEBHOOK_SECRET", ""),
		RazorpayKeySecret: env("RAZORPAY_KEY_SECRET", ""),
		SupportEmail:      env("SUPPORT_EMAIL", "support@storefront.example"),
		CurrencySymbol:    env("CURRENCY_SYMBOL", "₹"),

		LogLevel:  strings.ToLower(env("LOG_LEVEL", "info")),
		FlowsFile: env("FLOWS_FILE", ""),
	}

	var err error
	if c.RedisDB, err = strconv.Atoi(env("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("config: REDIS_DB: %w", err)
	}
	if c.CatalogTTL, err = time.ParseDuration(env("CATALOG_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("config: CATALOG_TTL: %w", err)
	}
	if c.MarkerTTL, err = time.ParseDuration(env("MARKER_TTL", "2h")); err != nil {
		return nil, fmt.Errorf("config: MARKER_TTL: %w", err)
	}
	if c.LogDev, err = strconv.ParseBool(env("LOG_DEV", "false")); err != nil {
		return nil, fmt.Errorf("config: LOG_DEV: %w", err)
	}
	if c.CookieSecure, err = strconv.ParseBool(env("COOKIE_SECURE", "false")); err != nil {
		return nil, fmt.Errorf("config: COOKIE_SECURE: %w", err)
	}

	if c.FlowsFile != "" {
		if c.Flows, err = LoadFlows(c.FlowsFile); err != nil {
			return nil, err
		}
	} else {
		c.Flows = DefaultFlows()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("config: STORE_BACKEND %q: want memory, redis or postgres", c.StoreBackend)
	}
	if c.CatalogTTL < 0 {
		return fmt.Errorf("config: CATALOG_TTL must not be negative")
	}
	if c.MarkerTTL <= 0 {
		return fmt.Errorf("config: MARKER_TTL must be positive")
	}
	return validateFlows(c.Flows)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}

func (c *Config) PostgresDSN() string {
	// pgx format
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName,
	)
}

// Flow looks a configured flow up by name.
func (c *Config) Flow(name string) (Flow, bool) {
	for _, f := range c.Flows {
		if f.Name == name {
			return f, true
		}
	}
	return Flow{}, false
}
