// Package common provides shared utilities for Backdrop
package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the backdrop services.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	MDC         MDCConfig     `toml:"mdc"`
	Pool        PoolConfig    `toml:"pool"`
	Queue       QueueConfig   `toml:"queue"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the on-disk BadgerDB location shared by the
// market-data cache, the result store and the durable execution queue.
type StorageConfig struct {
	DataPath string `toml:"data_path"`
}

// MDCConfig configures the market-data origin client and cache TTL.
type MDCConfig struct {
	BaseURL   string `toml:"base_url"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
	CacheTTL  string `toml:"cache_ttl"`
}

// GetTimeout parses and returns the origin-fetch timeout duration.
func (c *MDCConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCacheTTL parses and returns the cache entry TTL.
func (c *MDCConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// PoolConfig configures the sandbox container pool.
type PoolConfig struct {
	Size           int    `toml:"size"`
	Image          string `toml:"image"`
	AcquireTimeout string `toml:"acquire_timeout"`
	HostTmpfsBind  string `toml:"host_tmpfs_bind"`
}

// GetAcquireTimeout parses and returns the Acquire() deadline.
func (c *PoolConfig) GetAcquireTimeout() time.Duration {
	d, err := time.ParseDuration(c.AcquireTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// QueueConfig configures the execution backend.
type QueueConfig struct {
	DSN             string `toml:"dsn"`
	RuntimeIsWorker bool   `toml:"runtime_is_worker"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// envOverrides mirrors the subset of Config that the environment
// variables are permitted to override. Loaded with envconfig on top of
// whatever the TOML file set, so environment always wins.
type envOverrides struct {
	DataURL         string `envconfig:"DATA_URL"`
	QueueDSN        string `envconfig:"CELERY_BROKER_URL"`
	RuntimeIsWorker bool   `envconfig:"RUNTIME_CELERY"`
	HostTmpfsBind   string `envconfig:"HOST_TMPFS_BIND"`
	LogLevel        string `envconfig:"BACKDROP_LOG_LEVEL"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			DataPath: "data/backdrop",
		},
		MDC: MDCConfig{
			BaseURL:   "https://data.backdrop.internal",
			RateLimit: 10,
			Timeout:   "30s",
			CacheTTL:  "168h",
		},
		Pool: PoolConfig{
			Size:           2,
			Image:          "code-sandbox",
			AcquireTimeout: "30s",
			HostTmpfsBind:  "/host_tmpfs",
		},
		Queue: QueueConfig{
			DSN: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from TOML files (later files override
// earlier ones) and then applies environment variable overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides layers the environment variables on top of whatever
// the TOML file produced.
func applyEnvOverrides(config *Config) {
	var env envOverrides
	if err := envconfig.Process("backdrop", &env); err != nil {
		return
	}
	if env.DataURL != "" {
		config.MDC.BaseURL = env.DataURL
	}
	if env.QueueDSN != "" {
		config.Queue.DSN = env.QueueDSN
	}
	if os.Getenv("RUNTIME_CELERY") != "" {
		config.Queue.RuntimeIsWorker = env.RuntimeIsWorker
	}
	if env.HostTmpfsBind != "" {
		config.Pool.HostTmpfsBind = env.HostTmpfsBind
	}
	if env.LogLevel != "" {
		config.Logging.Level = env.LogLevel
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
