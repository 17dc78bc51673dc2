package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// ErrNoRedis is returned when no Redis credentials can be resolved.
var ErrNoRedis = errors.New("no redis service configured")

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Redis, resolved from REDIS_URL, REDIS_HOST or VCAP_SERVICES
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Relay behavior
	HistoryMax      int
	TrimOnWrite     bool
	AvatarBaseURL   string
	StaticDir       string
	HubBuffer       int
	MaxMessageBytes int

	// Rate limiting
	ConnectRateLimit   int      // WebSocket connects per IP per minute
	SnapshotRateLimit  int      // snapshot endpoint reads per IP per minute
	SendRateLimit      int      // chat messages per IP per minute, across instances
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present and falls back to a
// local Redis. Elsewhere, missing Redis credentials are an error.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "3000"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RedisURL:      os.Getenv("REDIS_URL"),
		AvatarBaseURL: getEnv("AVATAR_BASE_URL", "//api.adorable.io/avatars/30/"),
		StaticDir:     getEnv("STATIC_DIR", "public"),
		TrimOnWrite:   getEnv("HISTORY_TRIM_ON_WRITE", "true") == "true",
	}

	var err error
	if cfg.HistoryMax, err = getInt("CHANNEL_HISTORY_MAX", 10); err != nil {
		return nil, err
	}
	if cfg.HubBuffer, err = getInt("HUB_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.MaxMessageBytes, err = getInt("MAX_MESSAGE_BYTES", 4096); err != nil {
		return nil, err
	}
	if cfg.ConnectRateLimit, err = getInt("CONNECT_RATE_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.SnapshotRateLimit, err = getInt("SNAPSHOT_RATE_LIMIT", 60); err != nil {
		return nil, err
	}
	if cfg.SendRateLimit, err = getInt("SEND_RATE_LIMIT", 60); err != nil {
		return nil, err
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if err := cfg.resolveRedis(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveRedis picks credentials in order: REDIS_URL, REDIS_HOST, then a
// bound Cloud Foundry service.
func (c *Config) resolveRedis() error {
	if c.RedisURL != "" {
		return nil
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.RedisHost = host
		c.RedisPort = getEnv("REDIS_PORT", "6379")
		c.RedisPassword = os.Getenv("REDIS_PASSWORD")
		return nil
	}

	if vcap := os.Getenv("VCAP_SERVICES"); vcap != "" {
		creds, err := redisFromVCAP(vcap, os.Getenv("REDIS_SERVICE_NAME"))
		if err != nil {
			return err
		}
		c.RedisHost = creds.Host
		c.RedisPort = creds.Port
		c.RedisPassword = creds.Password
		return nil
	}

	if c.IsDevelopment() {
		c.RedisHost = "localhost"
		c.RedisPort = "6379"
		return nil
	}

	return ErrNoRedis
}

// RedisOptions returns client options for the resolved credentials.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL != "" {
		return redis.ParseURL(c.RedisURL)
	}
	if c.RedisHost == "" {
		return nil, ErrNoRedis
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(c.RedisHost, c.RedisPort),
		Password: c.RedisPassword,
	}, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
