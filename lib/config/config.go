// Package config loads the engine's TOML configuration file: one or more
// Redis shard endpoints plus the logging level, following the same
// BurntSushi/toml + env-var-expansion pattern as a TOML-configured bridge
// service elsewhere in the reference corpus.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/float001/nchan/lib/logging"
	"github.com/float001/nchan/lib/storeredis"
)

// Config is the top-level nchan configuration file shape.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Shards  []ShardConfig `toml:"shard"`
}

// LoggingConfig selects the minimum level that reaches the handler.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// ShardConfig is one [[shard]] table.
type ShardConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`

	MasterName    string   `toml:"master_name"`
	SentinelAddrs []string `toml:"sentinel_addrs"`

	Prefix string `toml:"prefix"`

	PoolSize          int    `toml:"pool_size"`
	ConnectTimeoutRaw string `toml:"connect_timeout"`
	ReadTimeoutRaw    string `toml:"read_timeout"`
	WriteTimeoutRaw   string `toml:"write_timeout"`
}

// Load reads and parses a TOML config file at path, expanding ${VAR}
// environment references first so passwords need not be committed to disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(cfg.Shards) == 0 {
		return nil, fmt.Errorf("config: %s: at least one [[shard]] table is required", path)
	}
	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// EngineConfig converts the file-shaped Config into storeredis.Config, the
// form the engine constructor actually takes, parsing each shard's duration
// strings along the way.
func (c *Config) EngineConfig(logger *logging.HandlerLogger) (storeredis.Config, error) {
	out := storeredis.Config{Logger: logger}
	for i := range c.Shards {
		sc := &c.Shards[i]
		connectTimeout, err := parseDurationOr(sc.ConnectTimeoutRaw, 300*time.Millisecond)
		if err != nil {
			return storeredis.Config{}, fmt.Errorf("config: shard %d connect_timeout: %w", i, err)
		}
		readTimeout, err := parseDurationOr(sc.ReadTimeoutRaw, time.Second)
		if err != nil {
			return storeredis.Config{}, fmt.Errorf("config: shard %d read_timeout: %w", i, err)
		}
		writeTimeout, err := parseDurationOr(sc.WriteTimeoutRaw, time.Second)
		if err != nil {
			return storeredis.Config{}, fmt.Errorf("config: shard %d write_timeout: %w", i, err)
		}
		out.Shards = append(out.Shards, &storeredis.ShardConfig{
			Host:           sc.Host,
			Port:           sc.Port,
			Password:       sc.Password,
			DB:             sc.DB,
			MasterName:     sc.MasterName,
			SentinelAddrs:  sc.SentinelAddrs,
			Prefix:         sc.Prefix,
			PoolSize:       sc.PoolSize,
			ConnectTimeout: connectTimeout,
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
		})
	}
	return out, nil
}

func parseDurationOr(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}

// Level maps the config file's logging.level string onto the logging
// package's Level type, defaulting to INFO on an empty or unknown value.
func (c *Config) Level() logging.Level {
	switch c.Logging.Level {
	case "debug", "DEBUG":
		return logging.DEBUG
	case "warn", "WARN", "warning":
		return logging.WARNING
	case "error", "ERROR":
		return logging.ERROR
	default:
		return logging.INFO
	}
}
