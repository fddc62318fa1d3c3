// Package config loads server configuration from environment variables. A
// .env file in the working directory is read first when present; variables
// already set in the environment win.
//
// Required variables:
//   - APP_VERSION: semantic version of the deployed application. Features
//     are evaluated against it unless a request names another version.
//
// Optional variables:
//   - DATABASE_URL: PostgreSQL connection string for stored overrides and
//     API keys. Required by the serve and migrate commands.
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC server (default ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - MANIFEST_PATH: features.json or features.yaml registry file.
//   - OVERRIDES_FILE: JSON or YAML map of feature name to override value,
//     watched for changes.
//   - ENV_OVERRIDE_PREFIX: prefix for per-feature environment overrides
//     (default "FEATURE_"). Set to "-" to disable them.
//   - REDIS_URL, REDIS_OVERRIDES_KEY: hash of overrides kept in Redis.
//   - REMOTE_OVERRIDES_URL, REMOTE_OVERRIDES_PATH: JSON document of overrides
//     fetched over HTTP; the path selects a nested object.
//   - REFRESH_INTERVAL: poll interval for the Redis and HTTP sources
//     (default "30s", must be > 0 if set).
//   - CACHE_RESYNC_INTERVAL: safety-net refresh interval for the stored
//     override cache (default "1m", must be > 0 if set).
//   - STREAM_POLL_INTERVAL: how often /v1/stream polls for override events
//     (default "1s", must be > 0 if set).
//   - AUTH_RATE_LIMIT: failed auth attempts per minute per client before
//     requests are rejected (default "10", must be > 0 if set).
//   - ADMIN_TOKEN_HASH: bcrypt hash of a bootstrap admin token accepted in
//     addition to stored API keys.
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/sources"
)

// EnvOverridesDisabled turns off the environment override source when used
// as ENV_OVERRIDE_PREFIX.
const EnvOverridesDisabled = "-"

// Config holds the runtime configuration for the semflagz server.
type Config struct {
	AppVersion          string        `env:"APP_VERSION"`
	DatabaseURL         string        `env:"DATABASE_URL"`
	HTTPAddr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr            string        `env:"GRPC_ADDR" envDefault:":9090"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat           string        `env:"LOG_FORMAT" envDefault:"json"`
	ManifestPath        string        `env:"MANIFEST_PATH"`
	OverridesFile       string        `env:"OVERRIDES_FILE"`
	EnvOverridePrefix   string        `env:"ENV_OVERRIDE_PREFIX" envDefault:"FEATURE_"`
	RedisURL            string        `env:"REDIS_URL"`
	RedisOverridesKey   string        `env:"REDIS_OVERRIDES_KEY" envDefault:"semflagz:overrides"`
	RemoteOverridesURL  string        `env:"REMOTE_OVERRIDES_URL"`
	RemoteOverridesPath string        `env:"REMOTE_OVERRIDES_PATH"`
	RefreshInterval     time.Duration `env:"REFRESH_INTERVAL" envDefault:"30s"`
	CacheResyncInterval time.Duration `env:"CACHE_RESYNC_INTERVAL" envDefault:"1m"`
	StreamPollInterval  time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"1s"`
	AuthRateLimit       int           `env:"AUTH_RATE_LIMIT" envDefault:"10"`
	AdminTokenHash      string        `env:"ADMIN_TOKEN_HASH"`
	MaxJSONBodySize     int64         `env:"MAX_JSON_BODY_SIZE" envDefault:"1048576"`
}

// Load reads configuration from the environment, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	// A missing .env file is the normal case in containers.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.trim()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) trim() {
	for _, field := range []*string{
		&c.AppVersion,
		&c.DatabaseURL,
		&c.HTTPAddr,
		&c.GRPCAddr,
		&c.LogLevel,
		&c.LogFormat,
		&c.ManifestPath,
		&c.OverridesFile,
		&c.EnvOverridePrefix,
		&c.RedisURL,
		&c.RedisOverridesKey,
		&c.RemoteOverridesURL,
		&c.RemoteOverridesPath,
		&c.AdminTokenHash,
	} {
		*field = strings.TrimSpace(*field)
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = ":9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.EnvOverridePrefix == "" {
		c.EnvOverridePrefix = sources.DefaultEnvPrefix
	}
	if c.RedisOverridesKey == "" {
		c.RedisOverridesKey = sources.DefaultRedisKey
	}
}

func (c Config) validate() error {
	if c.AppVersion == "" {
		return errors.New("APP_VERSION is required")
	}
	if _, err := core.ParseVersion(c.AppVersion); err != nil {
		return fmt.Errorf("parse APP_VERSION: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return errors.New("LOG_FORMAT must be json or text")
	}
	if c.RefreshInterval <= 0 {
		return errors.New("REFRESH_INTERVAL must be > 0")
	}
	if c.CacheResyncInterval <= 0 {
		return errors.New("CACHE_RESYNC_INTERVAL must be > 0")
	}
	if c.StreamPollInterval <= 0 {
		return errors.New("STREAM_POLL_INTERVAL must be > 0")
	}
	if c.AuthRateLimit <= 0 {
		return errors.New("AUTH_RATE_LIMIT must be > 0")
	}
	if c.MaxJSONBodySize < 1 {
		return errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
	}
	if c.AdminTokenHash != "" {
		if _, err := bcrypt.Cost([]byte(c.AdminTokenHash)); err != nil {
			return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash: %w", err)
		}
	}
	if c.RemoteOverridesPath != "" && c.RemoteOverridesURL == "" {
		return errors.New("REMOTE_OVERRIDES_URL is required when REMOTE_OVERRIDES_PATH is set")
	}
	return nil
}

// RequireDatabase reports an error when DATABASE_URL is unset.
func (c Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// EnvOverridesEnabled reports whether FEATURE_* style overrides are read.
func (c Config) EnvOverridesEnabled() bool {
	return c.EnvOverridePrefix != EnvOverridesDisabled
}
