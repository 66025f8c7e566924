package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PlayerPlaceholder is replaced with the display name in broadcast templates.
const PlayerPlaceholder = "{player}"

// Config holds the complete application configuration
type Config struct {
	Limit    LimitConfig    `mapstructure:"limit"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Identity IdentityConfig `mapstructure:"identity"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// LimitConfig defines the daily quota policy
type LimitConfig struct {
	DailyLimitMinutes int64    `mapstructure:"daily_limit_minutes"`
	KickMessage       string   `mapstructure:"kick_message"`
	BroadcastTemplate string   `mapstructure:"broadcast_template"`
	IgnoredUserIDs    []string `mapstructure:"ignored_user_ids"`
	Timezone          string   `mapstructure:"timezone"`
}

// Location resolves the configured IANA time zone.
func (c LimitConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// EngineConfig defines evaluation loop settings
type EngineConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
	ActionBuffer    int    `mapstructure:"action_buffer"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// BridgeConfig defines the game host bridge listener
type BridgeConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Token      string `mapstructure:"token"`
}

// IdentityConfig defines display name resolution settings
type IdentityConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// MetricsConfig defines the metrics listener
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PLAYLIMIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if _, err := os.Stat(configPath); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// The evaluation period is fixed at one minute
	if v.IsSet("engine.evaluation_period") {
		return nil, fmt.Errorf("invalid configuration: engine.evaluation_period is fixed at 1m and cannot be set")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("limit.daily_limit_minutes", 240)
	v.SetDefault("limit.kick_message", "You have exceeded your allotted 4 hours on this server today. Try again tomorrow.")
	v.SetDefault("limit.broadcast_template", "{player} has exceeded their allotted 4 hours on this server today.")
	v.SetDefault("limit.ignored_user_ids", []string{})
	v.SetDefault("limit.timezone", "Etc/UTC")

	v.SetDefault("engine.shutdown_timeout", "10s")
	v.SetDefault("engine.action_buffer", 256)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "/var/lib/playlimit/playlimit.db")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	v.SetDefault("bridge.listen_addr", "127.0.0.1:8765")
	v.SetDefault("bridge.token", "")

	v.SetDefault("identity.cache_size", 4096)

	v.SetDefault("metrics.listen_addr", "127.0.0.1:9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Limit.DailyLimitMinutes < 1 {
		return fmt.Errorf("limit.daily_limit_minutes must be at least 1, got %d", cfg.Limit.DailyLimitMinutes)
	}
	if !strings.Contains(cfg.Limit.BroadcastTemplate, PlayerPlaceholder) {
		return fmt.Errorf("limit.broadcast_template must contain %s", PlayerPlaceholder)
	}
	if cfg.Limit.Timezone == "" {
		cfg.Limit.Timezone = "Etc/UTC"
	}
	if _, err := cfg.Limit.Location(); err != nil {
		return err
	}

	if _, err := time.ParseDuration(cfg.Engine.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid engine.shutdown_timeout: %w", err)
	}
	if cfg.Engine.ActionBuffer <= 0 {
		cfg.Engine.ActionBuffer = 256
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "sqlite"
	case "sqlite", "bolt", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (expected sqlite, bolt or redis)", cfg.Storage.Type)
	}

	if cfg.Storage.Type != "redis" {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	if cfg.Identity.CacheSize <= 0 {
		cfg.Identity.CacheSize = 4096
	}

	return nil
}
