// Package config loads and validates the control plane configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the MINIAWS_ prefix (e.g.
// MINIAWS_SERVER_PORT overrides server.port in the YAML), so the same binary runs
// with a config.yaml locally and with pure environment variables in containers.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is the prefix shared by every environment override.
const EnvPrefix = "MINIAWS"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Security     SecurityConfig     `mapstructure:"security"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Events       EventsConfig       `mapstructure:"events"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration. When Enabled is false
// accounts, keys and events live in memory only.
type DatabaseConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the connection used by the distributed rate limiter.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys    APIKeyConfig `mapstructure:"api_keys"`
	BcryptCost int          `mapstructure:"bcrypt_cost"`
}

// APIKeyConfig holds API key configuration
type APIKeyConfig struct {
	Prefix string `mapstructure:"prefix"`
	// EncryptionKey seals issued keys at rest. When empty an ephemeral key is
	// generated at startup, which is only acceptable with the memory backend.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ProvisioningConfig controls the simulated provisioning backend.
type ProvisioningConfig struct {
	MinDelay      time.Duration `mapstructure:"min_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	FailureRate   float64       `mapstructure:"failure_rate"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Backend           string `mapstructure:"backend"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// EventsConfig holds lifecycle event delivery settings.
type EventsConfig struct {
	// FeedSize is how many recent events are kept per account for the dashboard.
	FeedSize int             `mapstructure:"feed_size"`
	NATS     NATSConfig      `mapstructure:"nats"`
	Webhook  WebhookConfig   `mapstructure:"webhook"`
	File     EventFileConfig `mapstructure:"file"`
}

// NATSConfig configures the optional NATS event publisher.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// WebhookConfig configures the optional webhook event sink.
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// EventFileConfig configures the optional JSON-lines event log.
type EventFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

var envKeys = []string{
	// Server
	"server.host",
	"server.port",
	"server.read_timeout",
	"server.write_timeout",
	"server.shutdown_timeout",

	// Database
	"database.enabled",
	"database.host",
	"database.port",
	"database.name",
	"database.user",
	"database.password",
	"database.ssl_mode",
	"database.max_connections",
	"database.min_idle_connections",

	// Redis
	"redis.enabled",
	"redis.addr",
	"redis.password",
	"redis.db",

	// Auth
	"auth.api_keys.prefix",
	"auth.api_keys.encryption_key",
	"auth.bcrypt_cost",

	// Provisioning
	"provisioning.min_delay",
	"provisioning.max_delay",
	"provisioning.failure_rate",
	"provisioning.timeout",
	"provisioning.sweep_interval",

	// Security
	"security.cors.allowed_origins",
	"security.rate_limiting.enabled",
	"security.rate_limiting.backend",
	"security.rate_limiting.requests_per_minute",
	"security.rate_limiting.burst",

	// Logging
	"logging.level",
	"logging.format",

	// Telemetry
	"telemetry.metrics.enabled",
	"telemetry.metrics.prometheus_port",

	// Events
	"events.feed_size",
	"events.nats.enabled",
	"events.nats.url",
	"events.nats.subject_prefix",
	"events.webhook.enabled",
	"events.webhook.url",
	"events.webhook.timeout",
	"events.file.enabled",
	"events.file.path",
	"events.file.max_size_mb",
	"events.file.max_backups",
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mini-aws")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.APIKeys.EncryptionKey = expandEnv(cfg.Auth.APIKeys.EncryptionKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Watch re-reads the config file whenever it changes on disk and hands the
// new, validated configuration to onChange. Invalid edits are logged and
// ignored. Only settings that are safe to change at runtime (log level) should
// be applied by the callback.
func Watch(configPath string, onChange func(*Config)) error {
	if configPath == "" {
		return fmt.Errorf("config watch requires an explicit config file path")
	}
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := bindEnvVars(v); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("config file changed", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mini_aws")
	v.SetDefault("database.user", "miniaws")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.api_keys.prefix", "maws")
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)

	// Provisioning defaults
	v.SetDefault("provisioning.min_delay", "2s")
	v.SetDefault("provisioning.max_delay", "3s")
	v.SetDefault("provisioning.failure_rate", 0.0)
	v.SetDefault("provisioning.timeout", "30s")
	v.SetDefault("provisioning.sweep_interval", "15s")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.rate_limiting.requests_per_minute", 600)
	v.SetDefault("security.rate_limiting.burst", 50)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Events defaults
	v.SetDefault("events.feed_size", 100)
	v.SetDefault("events.nats.enabled", false)
	v.SetDefault("events.nats.url", "nats://localhost:4222")
	v.SetDefault("events.nats.subject_prefix", "miniaws.events")
	v.SetDefault("events.webhook.enabled", false)
	v.SetDefault("events.webhook.timeout", "10s")
	v.SetDefault("events.file.enabled", false)
	v.SetDefault("events.file.path", "./events.log")
	v.SetDefault("events.file.max_size_mb", 100)
	v.SetDefault("events.file.max_backups", 5)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when the database is enabled")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required when the database is enabled")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when the database is enabled")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.APIKeys.Prefix == "" {
		return fmt.Errorf("auth.api_keys.prefix is required")
	}

	p := c.Provisioning
	if p.MinDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("provisioning delays must not be negative")
	}
	if p.MinDelay > p.MaxDelay {
		return fmt.Errorf("provisioning.min_delay (%s) exceeds max_delay (%s)", p.MinDelay, p.MaxDelay)
	}
	if p.FailureRate < 0 || p.FailureRate > 1 {
		return fmt.Errorf("provisioning.failure_rate must be between 0 and 1, got %v", p.FailureRate)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("provisioning.timeout must be positive")
	}

	rl := c.Security.RateLimiting
	if rl.Enabled {
		switch rl.Backend {
		case "memory":
		case "redis":
			if !c.Redis.Enabled {
				return fmt.Errorf("security.rate_limiting.backend is redis but redis is not enabled")
			}
		default:
			return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", rl.Backend)
		}
		if rl.RequestsPerMinute < 1 {
			return fmt.Errorf("security.rate_limiting.requests_per_minute must be positive")
		}
	}

	if c.Telemetry.Metrics.Enabled {
		port := c.Telemetry.Metrics.PrometheusPort
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", port)
		}
		if port == c.Server.Port {
			return fmt.Errorf("telemetry.metrics.prometheus_port must differ from server.port")
		}
	}

	if c.Events.FeedSize < 1 {
		return fmt.Errorf("events.feed_size must be positive")
	}
	if c.Events.NATS.Enabled && c.Events.NATS.URL == "" {
		return fmt.Errorf("events.nats.url is required when NATS is enabled")
	}
	if c.Events.Webhook.Enabled && c.Events.Webhook.URL == "" {
		return fmt.Errorf("events.webhook.url is required when the webhook sink is enabled")
	}
	if c.Events.File.Enabled && c.Events.File.Path == "" {
		return fmt.Errorf("events.file.path is required when the file sink is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
