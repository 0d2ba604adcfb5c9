// Package config loads the service configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. built-in defaults
//  2. an optional YAML file (path taken from GWREG_CONFIG)
//  3. a .env file in the working directory, if present
//  4. environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig holds HTTP listener settings.
type ServiceConfig struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
}

// DatabaseConfig holds the relational store connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds the read cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// MessagingConfig controls publication of association events.
type MessagingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds the configuration from defaults, the optional YAML file named by
// GWREG_CONFIG, a .env file and the environment.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("GWREG_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "iot-gateway-registry",
			Port: "8880",
		},
		Database: DatabaseConfig{
			Driver:  DriverPostgres,
			SSLMode: "require",
		},
		Redis: RedisConfig{
			TTL: 5 * time.Minute,
		},
		Messaging: MessagingConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		cfg.Service.Port = v
	}

	if v := os.Getenv("GWREG_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GWREG_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("GWREG_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("GWREG_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("GWREG_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("GWREG_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}

	if v := os.Getenv("GWREG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GWREG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GWREG_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}

	if v := os.Getenv("GWREG_MESSAGING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Messaging.Enabled = enabled
		}
	}

	if v := os.Getenv("GWREG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Database.Driver) {
	case DriverPostgres:
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required for postgres"))
		}
	case DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Service.Port == "" {
		errs = append(errs, errors.New("service.port is required"))
	}

	if c.Redis.TTL < 0 {
		errs = append(errs, errors.New("redis.ttl must not be negative"))
	}

	return errors.Join(errs...)
}
