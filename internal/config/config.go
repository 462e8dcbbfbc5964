// Package config loads and validates the gateway's runtime configuration.
//
// Configuration comes from a YAML file and from environment variables, with
// env taking precedence. Env vars carry the LLMUR_ prefix and map nested
// keys with underscores: database_configuration.host becomes
// LLMUR_DATABASE_CONFIGURATION_HOST. A .env file in the working directory
// is loaded into the process environment when present.
//
// The file is optional unless an explicit path is given: without one the
// loader looks for config.yaml in the working directory and otherwise runs
// on env vars and defaults alone.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// ApplicationSecret seeds credential encryption, password hashing and
	// session token derivation. Required; changing it invalidates every
	// stored credential.
	ApplicationSecret string

	// MasterKeys are accepted in the X-LLMur-Key header and grant full
	// administrative access. Space-separated when given via environment.
	MasterKeys []string

	// Host and Port select the listen address. Defaults: 0.0.0.0:8082.
	Host string
	Port int

	// LogLevel is the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Database is the relational system of record.
	Database DatabaseConfig

	// Cache is the shared KV tier in front of the database.
	Cache CacheConfig

	// ClickHouse mirrors request logs into an analytics store. Disabled
	// when Addr is empty.
	ClickHouse ClickHouseConfig

	// Graph tunes the resolver cache.
	Graph GraphConfig

	// Failover bounds the upstream attempt walk.
	Failover FailoverConfig

	// RequestLog tunes the async request logger.
	RequestLog RequestLogConfig
}

// DatabaseConfig holds the relational store settings. Engine is an explicit
// selector so a typo fails at startup instead of silently picking a default.
type DatabaseConfig struct {
	// Engine names the backend. Only "postgres" is supported.
	Engine string

	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Pool bounds. Zero selects the store defaults.
	MinConnections int
	MaxConnections int
}

// CacheConfig holds the shared cache settings. Only "redis" is supported.
type CacheConfig struct {
	Engine string

	Host     string
	Port     int
	Username string
	Password string
}

// ClickHouseConfig holds the optional analytics sink settings.
type ClickHouseConfig struct {
	// Addr is the native-protocol address, e.g. "localhost:9000". Empty
	// disables the sink.
	Addr     string
	Database string
	Username string
	Password string
}

// Enabled reports whether a ClickHouse sink is configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Addr != ""
}

// GraphConfig tunes the resolver cache.
type GraphConfig struct {
	// TTL bounds how long a cached resolution is served without a rebuild.
	// Default: 10s.
	TTL time.Duration
}

// FailoverConfig bounds the upstream walk.
type FailoverConfig struct {
	// AttemptTimeout caps a single upstream attempt. Default: 30s.
	AttemptTimeout time.Duration

	// RequestBudget caps the whole walk across all attempts. Default: 60s.
	RequestBudget time.Duration
}

// RequestLogConfig tunes the async request logger.
type RequestLogConfig struct {
	// Capacity bounds the in-flight log channel; entries beyond it are
	// dropped and counted. Default: 1024.
	Capacity int
}

// Load reads configuration from the environment and, when present, from a
// YAML file. A non-empty path names the file explicitly and it must exist;
// otherwise config.yaml in the working directory is used when found.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("LLMUR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8082)
	v.SetDefault("log_level", "info")

	v.SetDefault("database_configuration.engine", "postgres")
	v.SetDefault("database_configuration.port", 5432)

	v.SetDefault("cache_configuration.engine", "redis")
	v.SetDefault("cache_configuration.port", 6379)

	v.SetDefault("graph.ttl", "10s")
	v.SetDefault("failover.attempt_timeout", "30s")
	v.SetDefault("failover.request_budget", "60s")
	v.SetDefault("request_log.capacity", 1024)

	cfg := &Config{
		ApplicationSecret: v.GetString("application_secret"),
		MasterKeys:        v.GetStringSlice("master_keys"),

		Host: v.GetString("host"),
		Port: v.GetInt("port"),

		LogLevel: strings.ToLower(v.GetString("log_level")),

		Database: DatabaseConfig{
			Engine:         strings.ToLower(v.GetString("database_configuration.engine")),
			Host:           v.GetString("database_configuration.host"),
			Port:           v.GetInt("database_configuration.port"),
			Database:       v.GetString("database_configuration.database"),
			Username:       v.GetString("database_configuration.username"),
			Password:       v.GetString("database_configuration.password"),
			MinConnections: v.GetInt("database_configuration.min_connections"),
			MaxConnections: v.GetInt("database_configuration.max_connections"),
		},

		Cache: CacheConfig{
			Engine:   strings.ToLower(v.GetString("cache_configuration.engine")),
			Host:     v.GetString("cache_configuration.host"),
			Port:     v.GetInt("cache_configuration.port"),
			Username: v.GetString("cache_configuration.username"),
			Password: v.GetString("cache_configuration.password"),
		},

		ClickHouse: ClickHouseConfig{
			Addr:     v.GetString("clickhouse.addr"),
			Database: v.GetString("clickhouse.database"),
			Username: v.GetString("clickhouse.username"),
			Password: v.GetString("clickhouse.password"),
		},

		Graph: GraphConfig{
			TTL: v.GetDuration("graph.ttl"),
		},

		Failover: FailoverConfig{
			AttemptTimeout: v.GetDuration("failover.attempt_timeout"),
			RequestBudget:  v.GetDuration("failover.request_budget"),
		},

		RequestLog: RequestLogConfig{
			Capacity: v.GetInt("request_log.capacity"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the semantic constraints that cannot be expressed as
// defaults. Errors name the offending setting so startup failures are
// actionable.
func (c *Config) Validate() error {
	if c.ApplicationSecret == "" {
		return fmt.Errorf("config: application_secret is required (LLMUR_APPLICATION_SECRET)")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port must be in 1..65535, got %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.Database.Engine != "postgres" {
		return fmt.Errorf("config: unsupported database_configuration.engine %q; only \"postgres\" is supported", c.Database.Engine)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("config: database_configuration.host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("config: database_configuration.database is required")
	}
	if c.Database.MinConnections < 0 || c.Database.MaxConnections < 0 {
		return fmt.Errorf("config: database connection bounds must not be negative")
	}
	if c.Database.MaxConnections > 0 && c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("config: database_configuration.min_connections %d exceeds max_connections %d",
			c.Database.MinConnections, c.Database.MaxConnections)
	}

	if c.Cache.Engine != "redis" {
		return fmt.Errorf("config: unsupported cache_configuration.engine %q; only \"redis\" is supported", c.Cache.Engine)
	}
	if c.Cache.Host == "" {
		return fmt.Errorf("config: cache_configuration.host is required")
	}

	if c.Graph.TTL <= 0 {
		return fmt.Errorf("config: graph.ttl must be a positive duration")
	}
	if c.Failover.AttemptTimeout <= 0 {
		return fmt.Errorf("config: failover.attempt_timeout must be a positive duration")
	}
	if c.Failover.RequestBudget <= 0 {
		return fmt.Errorf("config: failover.request_budget must be a positive duration")
	}
	if c.RequestLog.Capacity < 1 {
		return fmt.Errorf("config: request_log.capacity must be >= 1, got %d", c.RequestLog.Capacity)
	}

	return nil
}

// ListenAddr is the host:port pair the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisAddr is the host:port pair of the cache tier.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Cache.Host, c.Cache.Port)
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
