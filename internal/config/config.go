// Package config handles configuration loading and validation for Luna Node.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the static configuration for the node process. Mutable
// mining settings live in the persisted settings record; the mining
// section here only provides their first-run defaults.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Mining    MiningConfig    `mapstructure:"mining"`
	Storage   StorageConfig   `mapstructure:"storage"`
	API       APIConfig       `mapstructure:"api"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	NewRelic  NewRelicConfig  `mapstructure:"newrelic"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

// NodeConfig defines process-level settings
type NodeConfig struct {
	DataDir         string        `mapstructure:"data_dir"`
	EndpointTimeout time.Duration `mapstructure:"endpoint_timeout"`
	NetPollInterval time.Duration `mapstructure:"net_poll_interval"`
}

// MiningConfig provides first-run defaults for the persisted settings record
type MiningConfig struct {
	PayoutAddress    string `mapstructure:"payout_address"`
	Difficulty       int    `mapstructure:"difficulty"`
	AutoMine         bool   `mapstructure:"auto_mine"`
	MiningInterval   int    `mapstructure:"mining_interval"`
	UseGPU           bool   `mapstructure:"use_gpu"`
	HashAlgorithm    string `mapstructure:"hash_algorithm"`
	HashWorkerCount  int    `mapstructure:"hash_worker_count"`
	GPUBatchSize     int    `mapstructure:"gpu_batch_size"`
	PerformanceLevel int    `mapstructure:"performance_level"`
	EndpointURL      string `mapstructure:"endpoint_url"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend  string `mapstructure:"backend"` // file, redis
	RedisURL string `mapstructure:"redis_url"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db"`
}

// APIConfig defines the REST API server settings
type APIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Bind        string        `mapstructure:"bind"`
	StatusCache time.Duration `mapstructure:"status_cache"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// NotifyConfig defines webhook notification settings
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	NodeName     string `mapstructure:"node_name"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ProfilingConfig defines pprof server settings
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// NewRelicConfig defines APM settings
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// SentryConfig defines crash reporting settings
type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/luna-node")
	}

	v.SetEnvPrefix("LUNA_NODE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("node.data_dir", "./data")
	v.SetDefault("node.endpoint_timeout", "10s")
	v.SetDefault("node.net_poll_interval", "20s")

	// Mining defaults (first-run settings record)
	v.SetDefault("mining.payout_address", "")
	v.SetDefault("mining.difficulty", 2)
	v.SetDefault("mining.auto_mine", false)
	v.SetDefault("mining.mining_interval", 30)
	v.SetDefault("mining.use_gpu", false)
	v.SetDefault("mining.hash_algorithm", "sha256")
	v.SetDefault("mining.hash_worker_count", 0)
	v.SetDefault("mining.gpu_batch_size", 100000)
	v.SetDefault("mining.performance_level", 100)
	v.SetDefault("mining.endpoint_url", "https://bank.linglin.art")

	// Storage defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.redis_url", "127.0.0.1:6379")
	v.SetDefault("storage.redis_db", 0)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "127.0.0.1:8080")
	v.SetDefault("api.status_cache", "5s")
	v.SetDefault("api.cors_origins", []string{"*"})

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.node_name", "Luna Node")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Profiling defaults
	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")

	// NewRelic defaults
	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "Luna Node")
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}

	if c.Mining.Difficulty < 1 || c.Mining.Difficulty > 9 {
		return fmt.Errorf("mining.difficulty must be between 1 and 9")
	}

	if c.Mining.MiningInterval < 0 {
		return fmt.Errorf("mining.mining_interval must be >= 0")
	}

	if c.Mining.GPUBatchSize < 1000 {
		return fmt.Errorf("mining.gpu_batch_size must be >= 1000")
	}

	if c.Mining.PerformanceLevel < 10 || c.Mining.PerformanceLevel > 100 {
		return fmt.Errorf("mining.performance_level must be between 10 and 100")
	}

	if c.Mining.EndpointURL == "" {
		return fmt.Errorf("mining.endpoint_url is required")
	}

	switch c.Storage.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("storage.backend must be file or redis")
	}

	if c.Storage.Backend == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("storage.redis_url is required for the redis backend")
	}

	return nil
}

// DefaultSettings builds the first-run settings record from the mining
// defaults section.
func (c *Config) DefaultSettings() MiningConfig {
	return c.Mining
}
