package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Redemption.RequiredApprovals)
	assert.Equal(t, "SCOUT", cfg.Redemption.CodePrefix)
	assert.True(t, cfg.Sweeper.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Sweeper.Interval)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("REDEMPTION_DATABASE_DRIVER", "postgres")
	t.Setenv("REDEMPTION_DATABASE_DSN", "postgres://localhost/redemptions")
	t.Setenv("REDEMPTION_REDEMPTION_REQUIRED_APPROVALS", "2")
	t.Setenv("REDEMPTION_SWEEPER_INTERVAL", "30s")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/redemptions", cfg.Database.DSN)
	assert.Equal(t, 2, cfg.Redemption.RequiredApprovals)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redemption.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"server:",
		"  port: 9090",
		"redis:",
		"  addr: localhost:6379",
		"log:",
		"  format: json",
	}, "\n")), 0o600))

	v := New()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Error(t, ReadFile(New(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestValidate(t *testing.T) {
	base, err := Load(New())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero quorum", func(c *Config) { c.Redemption.RequiredApprovals = 0 }},
		{"zero interval", func(c *Config) { c.Sweeper.Interval = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	memory := base
	memory.Database = DatabaseConfig{Driver: "memory"}
	assert.NoError(t, memory.Validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "redemption_id", "r-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"redemption_id":"r-1"`)
}
