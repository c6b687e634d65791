// Package config loads kernel configuration from an optional YAML file with
// a PHK_* environment overlay, and watches the module activation file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the kernel reads.
const EnvPrefix = "PHK_"

// Config is the top-level configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	HTTP      HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Rationale RationaleConfig `yaml:"rationale" envPrefix:"RATIONALE_"`
	M3        M3Config        `yaml:"m3" envPrefix:"M3_"`
}

// DatabaseConfig selects the datastore.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite3 or postgres
	DSN    string `yaml:"dsn" env:"DSN"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // text or json
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// AuthConfig configures bearer-token actor resolution. An empty secret
// disables it and every emission is recorded without an actor.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// RationaleConfig tunes the rationale contract for M3 impacts.
type RationaleConfig struct {
	MaxLength       int  `yaml:"max_length" env:"MAX_LENGTH"`
	RequireTemporal bool `yaml:"require_temporal" env:"REQUIRE_TEMPORAL"`
}

// M3Config configures the auxiliary impact module.
type M3Config struct {
	RuntimeKey  string `yaml:"runtime_key" env:"RUNTIME_KEY"`
	ModulesFile string `yaml:"modules_file" env:"MODULES_FILE"`
}

// Default values applied after file and environment.
const (
	DefaultDriver     = "sqlite3"
	DefaultDSN        = "programhealth.db"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultHTTPAddr   = ":8080"
	DefaultMaxLength  = 420
	DefaultRuntimeKey = "m3"
)

// Load reads path (if non-empty), overlays PHK_* environment variables and
// applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseEnv overlays PHK_* environment variables onto target. Unset
// variables leave existing values alone.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.DSN == "" {
		c.Database.DSN = DefaultDSN
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Rationale.MaxLength == 0 {
		c.Rationale.MaxLength = DefaultMaxLength
	}
	if c.M3.RuntimeKey == "" {
		c.M3.RuntimeKey = DefaultRuntimeKey
	}
}

// Validate checks field values. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite3 or postgres", c.Database.Driver))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Rationale.MaxLength < 0 {
		errs = append(errs, fmt.Errorf("rationale.max_length must be positive, got %d", c.Rationale.MaxLength))
	}
	return errors.Join(errs...)
}
