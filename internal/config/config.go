package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config holds everything the daemon needs at startup.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Broker   BrokerConfig   `json:"broker"`
	Dispatch DispatchConfig `json:"dispatch"`
	Manifest ManifestConfig `json:"manifest"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  LoggingConfig  `json:"logging"`
}

// AlertingConfig enables incident notifications for fatal job failures.
// An empty webhook URL disables the channel.
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// ServerConfig controls the listen address of the thin admin surface.
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig describes the backing store for plugin values and jobs.
// Driver is "memory" or "mysql".
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// BrokerConfig selects the worker-pool transport. Driver is "memory",
// "rabbitmq" or "redis".
type BrokerConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Redis    RedisConfig    `json:"redis"`
}

// RabbitMQConfig holds the AMQP connection parameters.
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Durable bool   `json:"durable"`
}

// RedisConfig holds the Redis connection parameters.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DispatchConfig declares the queue topology available to plugins.
type DispatchConfig struct {
	Queues           []string `json:"queues"`
	DefaultQueue     string   `json:"default_queue"`
	DefaultSoftLimit int      `json:"default_soft_time_limit"`
	StageStatusLimit int      `json:"stage_status_soft_time_limit"`
}

// ManifestConfig points to the declarative plugin catalogue.
type ManifestConfig struct {
	Path string `json:"path"`
}

// LoggingConfig mirrors pkg/logger.Config in serialisable form.
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Load reads and validates a JSON config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Broker.Driver == "" {
		c.Broker.Driver = "memory"
	}
	if len(c.Dispatch.Queues) == 0 {
		c.Dispatch.Queues = []string{"default", "long"}
	}
	if c.Dispatch.DefaultQueue == "" {
		c.Dispatch.DefaultQueue = "default"
	}
	if c.Dispatch.DefaultSoftLimit <= 0 {
		c.Dispatch.DefaultSoftLimit = 60
	}
	if c.Dispatch.StageStatusLimit <= 0 {
		c.Dispatch.StageStatusLimit = 10
	}
	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join("configs", "plugins.yaml")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	switch c.Broker.Driver {
	case "memory":
	case "rabbitmq":
		if c.Broker.RabbitMQ.URL == "" {
			return errors.New("broker.rabbitmq.url is required for the rabbitmq driver")
		}
	case "redis":
		if c.Broker.Redis.Address == "" {
			return errors.New("broker.redis.address is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported broker driver %q", c.Broker.Driver)
	}
	defaultKnown := false
	for _, queue := range c.Dispatch.Queues {
		if queue == c.Dispatch.DefaultQueue {
			defaultKnown = true
			break
		}
	}
	if !defaultKnown {
		return fmt.Errorf("default queue %q is not part of dispatch.queues", c.Dispatch.DefaultQueue)
	}
	return nil
}
