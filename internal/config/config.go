// Package config loads the service configuration from an optional .env file,
// a YAML file and MIXERLINE_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MIXERLINE_"

// Config represents the application configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Locks    LocksConfig    `yaml:"locks"`
}

type HTTPConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"gte=1,lte=65535"`
	Path    string `yaml:"path" validate:"startswith=/"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite3 postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" validate:"required_unless=Disabled true"`
	Disabled  bool   `yaml:"disabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

type FleetConfig struct {
	Mixers int `yaml:"mixers" validate:"gte=1,lte=64"`
}

type LocksConfig struct {
	MaxRetry int    `yaml:"max_retry" validate:"gte=1"`
	MaxDelay string `yaml:"max_delay" validate:"required"` // e.g. "20ms"
}

// MaxDelayDuration parses the lock backoff ceiling.
func (l LocksConfig) MaxDelayDuration() (time.Duration, error) {
	return time.ParseDuration(l.MaxDelay)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Port: 8080},
		Metrics:  MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "mixerline.db"},
		Logging:  LoggingConfig{Level: "info"},
		Fleet:    FleetConfig{Mixers: 5},
		Locks:    LocksConfig{MaxRetry: 2000, MaxDelay: "20ms"},
	}
}

// Load reads the configuration. A missing .env or yaml file is not an
// error; path may be empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Locks.MaxDelayDuration(); err != nil {
		return fmt.Errorf("invalid configuration: locks.max_delay: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"METRICS_PATH":    &c.Metrics.Path,
		"DATABASE_DRIVER": &c.Database.Driver,
		"DATABASE_DSN":    &c.Database.DSN,
		"AUTH_JWT_SECRET": &c.Auth.JWTSecret,
		"LOGGING_LEVEL":   &c.Logging.Level,
		"LOCKS_MAX_DELAY": &c.Locks.MaxDelay,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTP_PORT":       &c.HTTP.Port,
		"METRICS_PORT":    &c.Metrics.Port,
		"FLEET_MIXERS":    &c.Fleet.Mixers,
		"LOCKS_MAX_RETRY": &c.Locks.MaxRetry,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"METRICS_ENABLED": &c.Metrics.Enabled,
		"AUTH_DISABLED":   &c.Auth.Disabled,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}
	return nil
}
