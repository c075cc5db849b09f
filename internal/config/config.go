// Package config assembles run settings from defaults, an optional TOML
// file and the environment. Command-line flags are applied last by the CLI.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/atmx/payments-engine/internal/engine"
	"github.com/atmx/payments-engine/internal/store"
)

// Output formats.
const (
	FormatCSV   = "csv"
	FormatTable = "table"
)

// Config is the full set of run settings.
type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Storage StorageConfig `toml:"storage"`
	Output  OutputConfig  `toml:"output"`
	Status  StatusConfig  `toml:"status"`
	Log     LogConfig     `toml:"log"`
}

// EngineConfig tunes the processor and dispatcher.
type EngineConfig struct {
	LockedPolicy  string `toml:"locked_policy"`
	DisputePolicy string `toml:"dispute_policy"`
	QueueSize     int    `toml:"queue_size"`
	Shards        int    `toml:"shards"`
}

// StorageConfig selects the store backends. Empty URLs mean in-memory.
type StorageConfig struct {
	DatabaseURL string `toml:"database_url"`
	RedisURL    string `toml:"redis_url"`
	HistoryTTL  string `toml:"history_ttl"`
}

// OutputConfig controls how the final snapshot is written.
type OutputConfig struct {
	Format     string `toml:"format"`
	SQLitePath string `toml:"sqlite_path"`
}

// StatusConfig enables the HTTP status server when Addr is set.
type StatusConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig sets the diagnostic log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			LockedPolicy:  string(engine.LockedBlockFunds),
			DisputePolicy: string(engine.DisputeDepositsOnly),
			QueueSize:     engine.DefaultQueueSize,
			Shards:        store.DefaultShards,
		},
		Output:  OutputConfig{Format: FormatCSV},
		Log:     LogConfig{Level: "info"},
	}
}

// Load returns Default overlaid with the TOML file at path (if non-empty)
// and then the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DATABASE_URL":            &c.Storage.DatabaseURL,
		"REDIS_URL":               &c.Storage.RedisURL,
		"PAYMENTS_HISTORY_TTL":    &c.Storage.HistoryTTL,
		"STATUS_ADDR":             &c.Status.Addr,
		"LOG_LEVEL":               &c.Log.Level,
		"PAYMENTS_LOCKED_POLICY":  &c.Engine.LockedPolicy,
		"PAYMENTS_DISPUTE_POLICY": &c.Engine.DisputePolicy,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PAYMENTS_QUEUE_SIZE": &c.Engine.QueueSize,
		"PAYMENTS_SHARDS":     &c.Engine.Shards,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.Engine.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.Engine.QueueSize)
	}
	if c.Engine.Shards < 1 {
		return fmt.Errorf("shards must be positive, got %d", c.Engine.Shards)
	}
	if _, err := c.HistoryTTL(); err != nil {
		return err
	}
	switch c.Output.Format {
	case FormatCSV, FormatTable:
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// Policy parses the engine policies.
func (c Config) Policy() (engine.Policy, error) {
	locked, err := engine.ParseLockedPolicy(c.Engine.LockedPolicy)
	if err != nil {
		return engine.Policy{}, err
	}
	dispute, err := engine.ParseDisputePolicy(c.Engine.DisputePolicy)
	if err != nil {
		return engine.Policy{}, err
	}
	return engine.Policy{Locked: locked, Dispute: dispute}, nil
}

// HistoryTTL is the expiry of Redis history entries. Zero, the default,
// keeps them until the run purges its keys on exit.
func (c Config) HistoryTTL() (time.Duration, error) {
	if c.Storage.HistoryTTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.Storage.HistoryTTL)
	if err != nil {
		return 0, fmt.Errorf("history_ttl: %w", err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("history_ttl must not be negative, got %s", ttl)
	}
	return ttl, nil
}

// LogLevel parses Log.Level (debug, info, warn, error).
func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
