// Package config loads client settings from the environment or a YAML file
// and turns them into fetchup options.
package config

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	fetchup "github.com/sleepcha/Fetchup"
	"github.com/sleepcha/Fetchup/store/redis"
	"github.com/sleepcha/Fetchup/store/sqlite"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FETCHUP_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	BaseURL           string            `yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	Timeout           time.Duration     `yaml:"timeout" env:"TIMEOUT" envDefault:"30s" validate:"gt=0,lte=10m"`
	Headers           map[string]string `yaml:"headers" env:"HEADERS"`
	CacheMode         string            `yaml:"cache_mode" env:"CACHE_MODE" envDefault:"policy" validate:"oneof=policy manual disabled off none"`
	InvalidateExpired bool              `yaml:"invalidate_expired" env:"INVALIDATE_EXPIRED"`
	Metrics           bool              `yaml:"metrics" env:"METRICS"`
	Brotli            bool              `yaml:"brotli" env:"BROTLI"`

	Store StoreConfig `yaml:"store" envPrefix:"STORE_"`
	Log   LogConfig   `yaml:"log" envPrefix:"LOG_"`
}

// StoreConfig selects the manual cache backend.
type StoreConfig struct {
	Backend       string        `yaml:"backend" env:"BACKEND" envDefault:"memory" validate:"oneof=memory sqlite redis"`
	Path          string        `yaml:"path" env:"PATH" envDefault:"fetchup-cache.db" validate:"required_if=Backend sqlite"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB" validate:"gte=0"`
	KeyPrefix     string        `yaml:"key_prefix" env:"KEY_PREFIX" envDefault:"fetchup"`
	TTL           time.Duration `yaml:"ttl" env:"TTL" validate:"gte=0"`
}

// LogConfig controls the zerolog output and client debug logging.
type LogConfig struct {
	Level   string `yaml:"level" env:"LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error disabled"`
	Console bool   `yaml:"console" env:"CONSOLE" envDefault:"true"`
	Debug   bool   `yaml:"debug" env:"DEBUG"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	// an empty environment only fills envDefault values, which always parse
	_ = env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})
	return cfg
}

// Load reads FETCHUP_* variables from the process environment.
func Load() (*Config, error) {
	return LoadEnv(nil)
}

// LoadEnv reads FETCHUP_* variables from environ, or from the process
// environment when environ is nil.
func LoadEnv(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file on top of Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "config validation failed")
	}
	return nil
}

// Mode returns the configured default cache mode.
func (c *Config) Mode() fetchup.CacheMode {
	mode, err := fetchup.ParseCacheMode(c.CacheMode)
	if err != nil {
		return fetchup.CachePolicy
	}
	return mode
}

// NewLogger builds the zerolog logger described by Log, writing to w.
func (c *Config) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.Log.Console {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// OpenStore opens the configured manual cache backend. The returned close
// function releases it.
func (c *Config) OpenStore(ctx context.Context) (fetchup.CacheStore, func() error, error) {
	switch c.Store.Backend {
	case BackendSQLite:
		store, err := sqlite.Open(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case BackendRedis:
		store, err := redis.Dial(ctx, c.Store.RedisAddr, c.Store.RedisPassword, c.Store.RedisDB, redis.Config{
			KeyPrefix: c.Store.KeyPrefix,
			TTL:       c.Store.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return fetchup.NewInMemoryCache(), func() error { return nil }, nil
	}
}

// ClientOptions converts the configuration into client options. store is the
// manual cache, usually from OpenStore; nil keeps the client default.
func (c *Config) ClientOptions(store fetchup.CacheStore, logger zerolog.Logger) []fetchup.Option {
	opts := []fetchup.Option{
		fetchup.WithTimeout(c.Timeout),
		fetchup.WithLogger(fetchup.NewZerologLogger(logger)),
	}
	if c.BaseURL != "" {
		opts = append(opts, fetchup.WithBaseURL(c.BaseURL))
	}
	for key, value := range c.Headers {
		opts = append(opts, fetchup.WithHeader(key, value))
	}
	if store != nil {
		opts = append(opts, fetchup.WithCacheStore(store))
	}
	if c.InvalidateExpired {
		opts = append(opts, fetchup.WithInvalidateExpired())
	}
	if c.Metrics {
		opts = append(opts, fetchup.WithMetrics())
	}
	if c.Brotli {
		opts = append(opts, fetchup.WithBrotli())
	}
	if c.Log.Debug {
		opts = append(opts, fetchup.WithDebug())
	}
	return opts
}
