package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// DefaultPath is used when NETWORLD_CONFIG is unset.
const DefaultPath = "config/networld.toml"

type Config struct {
	Server    ServerConfig    `toml:"server"`
	World     WorldConfig     `toml:"world"`
	Database  DatabaseConfig  `toml:"database"`
	Network   NetworkConfig   `toml:"network"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Logging   LoggingConfig   `toml:"logging"`
	Scripting ScriptingConfig `toml:"scripting"`
	Data      DataConfig      `toml:"data"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	Profile   string `toml:"profile" env:"NETWORLD_PROFILE"` // "", "cpu" or "mem"
	StartTime int64  // set at boot, not from config
}

type WorldConfig struct {
	Name         string        `toml:"name" env:"NETWORLD_WORLD_NAME"`
	TickRate     time.Duration `toml:"tick_rate" env:"NETWORLD_TICK_RATE"`
	LongFrame    time.Duration `toml:"long_frame"`
	HistoryLimit int           `toml:"history_limit"` // 0 keeps everything
	// AccessKeyHash is a bcrypt hash of the world's access key. Empty = open.
	AccessKeyHash   string        `toml:"access_key_hash" env:"NETWORLD_ACCESS_KEY_HASH"`
	DuplicatePolicy string        `toml:"duplicate_policy"` // "reject" or "evict"
	StaleAfter      time.Duration `toml:"stale_after"`      // 0 disables the stale-client report
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn" env:"NETWORLD_DATABASE_DSN"` // empty disables the archive
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	ArchiveQueue    int           `toml:"archive_queue"`
}

type NetworkConfig struct {
	BindAddress        string        `toml:"bind_address" env:"NETWORLD_BIND_ADDRESS"`
	Path               string        `toml:"path"`
	InQueueSize        int           `toml:"in_queue_size"`
	OutQueueSize       int           `toml:"out_queue_size"`
	MaxMessagesPerTick int           `toml:"max_messages_per_tick"`
	MaxMessageSize     int64         `toml:"max_message_size"`
	WriteTimeout       time.Duration `toml:"write_timeout"`
	ReadTimeout        time.Duration `toml:"read_timeout"`
}

type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

type LoggingConfig struct {
	Level  string `toml:"level" env:"NETWORLD_LOG_LEVEL"`
	Format string `toml:"format" env:"NETWORLD_LOG_FORMAT"` // "json" or "console"
}

type ScriptingConfig struct {
	Dir string `toml:"dir"` // empty disables Lua receptors
}

type DataConfig struct {
	SpawnPoints string `toml:"spawn_points"` // YAML file; empty spawns at the origin
}

// Path returns the config file location, honouring NETWORLD_CONFIG.
func Path() string {
	if p := os.Getenv("NETWORLD_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file is not an error: defaults and the
// environment still apply.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.World.TickRate <= 0 {
		return fmt.Errorf("world.tick_rate must be positive, got %s", c.World.TickRate)
	}
	switch c.World.DuplicatePolicy {
	case "reject", "evict":
	default:
		return fmt.Errorf("world.duplicate_policy: unknown policy %q", c.World.DuplicatePolicy)
	}
	switch c.Server.Profile {
	case "", "cpu", "mem":
	default:
		return fmt.Errorf("server.profile: unknown profile %q", c.Server.Profile)
	}
	if c.RateLimit.Enabled && c.RateLimit.MessagesPerSecond <= 0 {
		return fmt.Errorf("rate_limit.messages_per_second must be positive when enabled")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "networld",
		},
		World: WorldConfig{
			Name:            "default",
			TickRate:        time.Second / 60,
			LongFrame:       50 * time.Millisecond,
			DuplicatePolicy: "reject",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ArchiveQueue:    256,
		},
		Network: NetworkConfig{
			BindAddress:        "0.0.0.0:7010",
			Path:               "/ws",
			InQueueSize:        128,
			OutQueueSize:       256,
			MaxMessagesPerTick: 32,
			MaxMessageSize:     64 << 10,
			WriteTimeout:       10 * time.Second,
			ReadTimeout:        60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: 120,
			Burst:             240,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
