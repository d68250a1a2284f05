package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/service"
	"github.com/tanglebox/keywarden/pkg/jwtx"
)

type Config struct {
	Issuer string // Issuer claim for access tokens

	SigningAlg     string // JWT signing algorithm (HS256, EdDSA) (default: HS256)
	HMACSecret     string // Shared secret for HS256 (required when SigningAlg is HS256)
	SigningKeyFile string // Path to PKCS8 PEM Ed25519 key (required when SigningAlg is EdDSA)

	DatabaseFile string // Path to SQLite database file (default: ./keywarden.db)
	PepperFile   string // Path to the secret-hashing pepper file (default: ./pepper)
	CacheURL     string // Optional: redis:// URL for the shared revocation/rate-limit cache

	AccessTTL  time.Duration // Access token lifetime (default: 15m)
	RefreshTTL time.Duration // Refresh token lifetime (default: 720h)

	RateLimitMax    int           // Attempts allowed per (client, origin) window (default: 10)
	RateLimitWindow time.Duration // Fixed window size (default: 1m)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	AuditRetention       time.Duration // How long audit events are kept (default: 2160h)
}

func LoadConfig() Config {
	return Config{
		Issuer:         getEnvOrDefault("KEYWARDEN_ISSUER", "keywarden"),
		SigningAlg:     getEnvOrDefault("KEYWARDEN_SIGNING_ALG", jwtx.AlgHS256),
		HMACSecret:     os.Getenv("KEYWARDEN_HMAC_SECRET"),
		SigningKeyFile: os.Getenv("KEYWARDEN_SIGNING_KEY_FILE"),

		DatabaseFile: getEnvOrDefault("KEYWARDEN_DATABASE_FILE", "keywarden.db"),
		PepperFile:   getEnvOrDefault("KEYWARDEN_PEPPER_FILE", "pepper"),
		CacheURL:     os.Getenv("KEYWARDEN_CACHE_URL"),

		AccessTTL:  getEnvDurationOrDefault("KEYWARDEN_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL: getEnvDurationOrDefault("KEYWARDEN_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),

		RateLimitMax:    getEnvIntOrDefault("KEYWARDEN_RATE_LIMIT_MAX", service.DefaultRateLimitMax),
		RateLimitWindow: getEnvDurationOrDefault("KEYWARDEN_RATE_LIMIT_WINDOW", service.DefaultRateLimitWindow),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
		AuditRetention:       getEnvDurationOrDefault("KEYWARDEN_AUDIT_RETENTION", 90*24*time.Hour),
	}
}

// Validate rejects configurations the service cannot safely run with.
// Misconfiguration is fatal at startup, never a runtime fallback.
func (c Config) Validate() error {
	switch c.SigningAlg {
	case jwtx.AlgHS256:
		if c.HMACSecret == "" {
			return errors.New("KEYWARDEN_HMAC_SECRET is required for HS256")
		}
		if len(c.HMACSecret) < jwtx.MinHMACSecretLen {
			return fmt.Errorf("KEYWARDEN_HMAC_SECRET must be at least %d bytes", jwtx.MinHMACSecretLen)
		}
	case jwtx.AlgEdDSA:
		if c.SigningKeyFile == "" {
			return errors.New("KEYWARDEN_SIGNING_KEY_FILE is required for EdDSA")
		}
	default:
		return fmt.Errorf("unsupported signing algorithm %q", c.SigningAlg)
	}

	if c.AccessTTL < 0 {
		return errors.New("KEYWARDEN_ACCESS_TTL must not be negative")
	}
	if c.RefreshTTL <= 0 {
		return errors.New("KEYWARDEN_REFRESH_TTL must be positive")
	}
	if c.RateLimitMax < 1 {
		return errors.New("KEYWARDEN_RATE_LIMIT_MAX must be at least 1")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("KEYWARDEN_RATE_LIMIT_WINDOW must be positive")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
