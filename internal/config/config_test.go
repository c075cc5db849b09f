package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/payments-engine/internal/engine"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payments.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultPolicy(), p)
	assert.Equal(t, 50, cfg.Engine.QueueSize)
	assert.Equal(t, FormatCSV, cfg.Output.Format)
	assert.Empty(t, cfg.Status.Addr)
	assert.Empty(t, cfg.Storage.DatabaseURL)

	ttl, err := cfg.HistoryTTL()
	require.NoError(t, err)
	assert.Zero(t, ttl, "history must not expire during a run by default")
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
[engine]
locked_policy = "block-all"
dispute_policy = "symmetric"
queue_size = 8

[output]
format = "table"
sqlite_path = "out.db"

[log]
level = "debug"
`)
	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	require.NoError(t, cfg.Validate())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, engine.LockedBlockAll, p.Locked)
	assert.Equal(t, engine.DisputeSymmetric, p.Dispute)
	assert.Equal(t, 8, cfg.Engine.QueueSize)
	assert.Equal(t, 32, cfg.Engine.Shards, "unset keys keep their default")
	assert.Equal(t, FormatTable, cfg.Output.Format)
	assert.Equal(t, "out.db", cfg.Output.SQLitePath)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, "[engine]\nqueue_sise = 3\n")
	cfg := Default()
	err := cfg.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue_sise")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"DATABASE_URL":         "postgres://localhost/payments",
		"REDIS_URL":            "redis://localhost:6379/0",
		"STATUS_ADDR":          ":9090",
		"LOG_LEVEL":            "warn",
		"PAYMENTS_QUEUE_SIZE":  "128",
		"PAYMENTS_HISTORY_TTL": "1h",
		"PAYMENTS_SHARDS":      "",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres://localhost/payments", cfg.Storage.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, ":9090", cfg.Status.Addr)
	assert.Equal(t, 128, cfg.Engine.QueueSize)
	assert.Equal(t, 32, cfg.Engine.Shards, "empty values are ignored")

	ttl, err := cfg.HistoryTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

func TestApplyEnv_BadInt(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{"PAYMENTS_QUEUE_SIZE": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYMENTS_QUEUE_SIZE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"locked policy", func(c *Config) { c.Engine.LockedPolicy = "sometimes" }},
		{"dispute policy", func(c *Config) { c.Engine.DisputePolicy = "never" }},
		{"queue size", func(c *Config) { c.Engine.QueueSize = 0 }},
		{"shards", func(c *Config) { c.Engine.Shards = -1 }},
		{"ttl", func(c *Config) { c.Storage.HistoryTTL = "soon" }},
		{"negative ttl", func(c *Config) { c.Storage.HistoryTTL = "-1m" }},
		{"format", func(c *Config) { c.Output.Format = "xml" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
