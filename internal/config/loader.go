package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables. A missing
// file is not an error; defaults and environment overrides still apply.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Environment variables take precedence over the file
	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Dump renders the configuration as YAML with secrets masked
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// Server configuration
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	setInt("SERVER_PORT", &cfg.Server.Port)

	// Database configuration
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	setInt("DATABASE_PORT", &cfg.Database.Port)
	if dbName := os.Getenv("DATABASE_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if path := os.Getenv("DATABASE_SQLITE_PATH"); path != "" {
		cfg.Database.SQLitePath = path
	}

	// Redis configuration
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	setInt("REDIS_PORT", &cfg.Redis.Port)
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	// Counter configuration
	setInt("COUNTER_BATCH_LIMIT", &cfg.Counter.BatchLimit)
	setInt("COUNTER_QUEUE_SIZE", &cfg.Counter.QueueSize)
	setInt("COUNTER_FLUSH_WORKERS", &cfg.Counter.FlushWorkers)
	setDuration("COUNTER_FLUSH_INTERVAL", &cfg.Counter.FlushInterval)
	setDuration("COUNTER_READ_CACHE_CLEAR_INTERVAL", &cfg.Counter.ReadCacheClearInterval)
	if tz := os.Getenv("COUNTER_TIME_ZONE"); tz != "" {
		cfg.Counter.TimeZone = tz
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func setInt(env string, dst *int) {
	if raw := os.Getenv(env); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}

func setDuration(env string, dst *time.Duration) {
	if raw := os.Getenv(env); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			*dst = v
		}
	}
}
