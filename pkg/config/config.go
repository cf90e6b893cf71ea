// Package config loads application configuration from environment variables,
// an optional config file and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// APIConfig holds gateway-related configuration
type APIConfig struct {
	Port               string        `mapstructure:"port"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	SyncWaitTimeout    time.Duration `mapstructure:"sync_wait_timeout"`
	StreamCloseGrace   time.Duration `mapstructure:"stream_close_grace"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig holds job queue backend configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds response channel configuration
type KafkaConfig struct {
	Brokers       string `mapstructure:"brokers"`
	ResponseTopic string `mapstructure:"response_topic"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// PostgresConfig holds transaction store configuration
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ChainConfig holds signing and RPC configuration
type ChainConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	PrivateKey string `mapstructure:"private_key"`
}

// WorkerConfig holds transaction submitter configuration
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// OpsPort serves the worker's health and metrics endpoints.
	OpsPort string `mapstructure:"ops_port"`
	// MaxAttempts is the number of times a job may be handed to a worker
	// slot. The default of 1 disables automatic retries: a retried job may
	// re-broadcast a transaction that already reached the network.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoadOptions controls how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an optional path to a config file (yaml/toml/json).
	ConfigFile string
	// EnvPrefix is the prefix for environment variables (default "REYA").
	EnvPrefix string
	// DotEnv controls whether a .env file in the working directory is loaded.
	DotEnv bool
	// Flags is an optional flag set whose values override everything else.
	Flags *pflag.FlagSet
}

// DefaultLoadOptions returns the default load options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		EnvPrefix: "REYA",
		DotEnv:    true,
	}
}

// Load loads configuration with the default options.
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration according to the given options.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.DotEnv {
		// Same behavior as the original deployment scripts: a missing
		// .env file is not an error.
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "REYA"
	}
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", "3000")
	v.SetDefault("api.cors_allowed_origins", []string{"*"})
	v.SetDefault("api.sync_wait_timeout", 10*time.Second)
	v.SetDefault("api.stream_close_grace", 500*time.Millisecond)
	v.SetDefault("api.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.response_topic", "trade-responses")
	v.SetDefault("kafka.consumer_group", "trade-gateway")

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/trades?sslmode=disable")

	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.private_key", "")

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.ops_port", "3001")
	v.SetDefault("worker.max_attempts", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")

	v.SetDefault("metrics.namespace", "reya")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.API.SyncWaitTimeout <= 0 {
		return fmt.Errorf("api.sync_wait_timeout must be positive, got %s", c.API.SyncWaitTimeout)
	}
	return nil
}
