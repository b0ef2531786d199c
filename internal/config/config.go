// Package config loads the layered YAML+env configuration shared by the
// sync server and client CLIs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration tree for both cmd/syncserver and
// cmd/syncclient; each binary only reads the sections it needs.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Sync      SyncConfig      `yaml:"sync"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Client    ClientConfig    `yaml:"client"`
}

type ServerConfig struct {
	Listen  string        `yaml:"listen"`
	Timeout time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type SyncConfig struct {
	WatermarkGraceSeconds int    `yaml:"watermark_grace_seconds"`
	DefaultStrategy       string `yaml:"default_strategy"` // last_write_wins, merge, client_wins, server_wins, manual
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	AllowGuest  bool          `yaml:"allow_guest"`
}

type RateLimitConfig struct {
	IPRequestsPerMinute     int           `yaml:"ip_requests_per_minute"`
	UserRequestsPerMinute   int           `yaml:"user_requests_per_minute"`
	GlobalRequestsPerSecond int           `yaml:"global_requests_per_second"`
	BlockDuration           time.Duration `yaml:"block_duration"`
	MaxViolations           int           `yaml:"max_violations"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ClientConfig struct {
	ServerURL      string        `yaml:"server_url"`
	DeviceID       string        `yaml:"device_id"`
	UserID         string        `yaml:"user_id"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns sane defaults matching the spec's stated defaults
// (100 IP req/min, 30s server timeout, etc).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8080", Timeout: 30 * time.Second},
		Storage: StorageConfig{DataDir: "./data"},
		Sync: SyncConfig{
			WatermarkGraceSeconds: 0,
			DefaultStrategy:       "last_write_wins",
		},
		Auth: AuthConfig{
			TokenExpiry: time.Hour,
			AllowGuest:  true,
		},
		RateLimit: RateLimitConfig{
			IPRequestsPerMinute:     100,
			UserRequestsPerMinute:   200,
			GlobalRequestsPerSecond: 1000,
			BlockDuration:           15 * time.Minute,
			MaxViolations:           5,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Client: ClientConfig{
			SyncInterval:   5 * time.Minute,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from configFile (or the standard search paths
// if empty), overlays environment variables prefixed INBETWEENIES_, and
// validates the result. A missing config file is not an error; defaults
// plus env overrides still apply.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.inbetweenies")
		v.AddConfigPath("/etc/inbetweenies")
	}

	v.SetEnvPrefix("INBETWEENIES")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate is called at startup only; an invalid configuration is a fatal
// error before any request handling begins, never a panic mid-request.
func (c *Config) Validate() error {
	if c.Storage.DataDir != "" {
		if err := os.MkdirAll(c.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir %s: %w", c.Storage.DataDir, err)
		}
	}
	switch c.Sync.DefaultStrategy {
	case "last_write_wins", "merge", "client_wins", "server_wins", "manual", "custom":
	default:
		return fmt.Errorf("unknown default sync strategy %q", c.Sync.DefaultStrategy)
	}
	return nil
}
