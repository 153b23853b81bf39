package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the counter service configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Counter     CounterConfig     `mapstructure:"counter" yaml:"counter"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency" yaml:"idempotency"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig represents HTTP and gRPC health server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	GRPCHealthPort  int           `mapstructure:"grpc_health_port" yaml:"grpc_health_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the durable counter store
type DatabaseConfig struct {
	Driver         string `mapstructure:"driver" yaml:"driver"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections int    `mapstructure:"min_connections" yaml:"min_connections"`
	SQLitePath     string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	SQLitePoolSize int    `mapstructure:"sqlite_pool_size" yaml:"sqlite_pool_size"`
}

// RedisConfig represents Redis idempotency store configuration
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// CounterConfig tunes the asynchronous write path
type CounterConfig struct {
	BatchLimit             int           `mapstructure:"batch_limit" yaml:"batch_limit"`
	QueueSize              int           `mapstructure:"queue_size" yaml:"queue_size"`
	FlushInterval          time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	FlushWorkers           int           `mapstructure:"flush_workers" yaml:"flush_workers"`
	FlushWorkerQueueSize   int           `mapstructure:"flush_worker_queue_size" yaml:"flush_worker_queue_size"`
	ReadCacheClearInterval time.Duration `mapstructure:"read_cache_clear_interval" yaml:"read_cache_clear_interval"`
	ReadCacheMaxSize       int           `mapstructure:"read_cache_max_size" yaml:"read_cache_max_size"`
	TimeZone               string        `mapstructure:"time_zone" yaml:"time_zone"`
	StopTimeout            time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// Location resolves TimeZone; an empty value or "Local" means the host zone
func (c CounterConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid counter.time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// IdempotencyConfig controls replay protection for HTTP increments
type IdempotencyConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
}

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.GRPCHealthPort < 0 || c.Server.GRPCHealthPort > 65535 {
		return errors.New("server.grpc_health_port must be between 0 and 65535")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path is required")
		}
	case "memory":
	default:
		return errors.New("database.driver must be one of: postgres, sqlite, memory")
	}

	if c.Counter.BatchLimit <= 0 {
		return errors.New("counter.batch_limit must be positive")
	}
	if c.Counter.QueueSize <= 0 {
		return errors.New("counter.queue_size must be positive")
	}
	if c.Counter.FlushInterval <= 0 {
		return errors.New("counter.flush_interval must be positive")
	}
	if c.Counter.ReadCacheClearInterval <= 0 {
		return errors.New("counter.read_cache_clear_interval must be positive")
	}
	if c.Counter.FlushWorkers <= 0 {
		return errors.New("counter.flush_workers must be positive")
	}
	if _, err := c.Counter.Location(); err != nil {
		return err
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Backend {
		case "redis":
			if c.Redis.Host == "" {
				return errors.New("redis.host is required for the redis idempotency backend")
			}
		case "memory":
		default:
			return errors.New("idempotency.backend must be one of: redis, memory")
		}
		if c.Idempotency.TTL <= 0 {
			return errors.New("idempotency.ttl must be positive")
		}
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// Redacted returns a copy with secrets masked, for printing
func (c *Config) Redacted() *Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = "****"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "****"
	}
	return &out
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			GRPCHealthPort:  50051,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			Database:       "counters",
			User:           "counterd",
			Password:       "",
			MaxConnections: 50,
			MinConnections: 5,
			SQLitePath:     "counters.db",
			SQLitePoolSize: 10,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		Counter: CounterConfig{
			BatchLimit:             4096,
			QueueSize:              4096,
			FlushInterval:          500 * time.Millisecond,
			FlushWorkers:           16,
			FlushWorkerQueueSize:   4096,
			ReadCacheClearInterval: 60 * time.Second,
			ReadCacheMaxSize:       100_000,
			TimeZone:               "Local",
			StopTimeout:            30 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			Enabled:    false,
			Backend:    "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 100_000,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           false,
			RequestsPerSecond: 1000,
			BurstSize:         100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
