/*
Package config loads runtime settings for the redemption server and CLI.

SOURCES (later wins):
  1. Defaults below
  2. redemption.yaml in the working directory or --config path
  3. Environment: REDEMPTION_ prefix, dots become underscores
     (REDEMPTION_DATABASE_DRIVER=postgres)
  4. Command-line flags bound by cmd/server

KEYS:
  server.port                    HTTP port
  database.driver                memory | sqlite | postgres
  database.dsn                   file path for sqlite, URL for postgres
  redis.addr                     empty disables Redis notifications
  redis.password, redis.db, redis.channel
  catalog.path                   offer catalog file; empty loads demo offers
  redemption.required_approvals  quorum for new redemptions
  redemption.code_prefix         prefix of issued codes
  sweeper.enabled, sweeper.interval
  log.level                      debug | info | warn | error
  log.format                     text | json
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/troopkit/redemption-engine/rewards"
)

const EnvPrefix = "REDEMPTION"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Redemption RedemptionConfig `mapstructure:"redemption"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type RedemptionConfig struct {
	RequiredApprovals int    `mapstructure:"required_approvals"`
	CodePrefix        string `mapstructure:"code_prefix"`
}

type SweeperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides are picked up
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "redemptions.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "redemption-events")
	v.SetDefault("catalog.path", "")
	v.SetDefault("redemption.required_approvals", rewards.DefaultRequiredApprovals)
	v.SetDefault("redemption.code_prefix", rewards.DefaultCodePrefix)
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", 15*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a config file into v. An empty path looks for
// redemption.yaml in the working directory and tolerates its absence.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("redemption")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for %s", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Redemption.RequiredApprovals <= 0 {
		return fmt.Errorf("redemption.required_approvals must be positive")
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive when the sweeper is enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// =============================================================================
// LOGGING
// =============================================================================

// NewLogger builds the process logger described by c.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
