package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"Invoke-Chain/internal/auth"
	"Invoke-Chain/internal/chain"
	"Invoke-Chain/internal/queue"
	"Invoke-Chain/internal/storage/mysql"
	redisstore "Invoke-Chain/internal/storage/redis"
	"Invoke-Chain/pkg/logger"
	"Invoke-Chain/pkg/plugin"
)

// EnvPath names the environment variable consulted when no path is given.
const EnvPath = "INVOKECHAIN_CONFIG"

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Logging  logger.Config        `yaml:"logging"`
	Plugins  plugin.ManagerConfig `yaml:"plugins"`
	Storage  StorageConfig        `yaml:"storage"`
	Redis    redisstore.Config    `yaml:"redis"`
	Queue    QueueConfig          `yaml:"queue"`
	Events   EventsConfig         `yaml:"events"`
	Invoke   InvokeConfig         `yaml:"invoke"`
	Alerting AlertingConfig       `yaml:"alerting"`
	Chains   chain.Config         `yaml:"chains"`
	Runtime  RuntimeConfig        `yaml:"runtime"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	APIKeys         []auth.APIKey `yaml:"apiKeys"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig selects the audit and task backends.
type StorageConfig struct {
	Audit BackendConfig `yaml:"audit"`
	Tasks BackendConfig `yaml:"tasks"`
}

// BackendConfig is either the in-process driver ("memory") or "mysql".
type BackendConfig struct {
	Driver string       `yaml:"driver"`
	MySQL  mysql.Config `yaml:"mysql"`
}

// QueueConfig configures the task queue and its workers.
type QueueConfig struct {
	queue.Config `yaml:",inline"`
	Workers      int `yaml:"workers"`
	MaxRetries   int `yaml:"maxRetries"`
}

// EventsConfig configures the queue invocation events are published to.
type EventsConfig struct {
	Enabled bool         `yaml:"enabled"`
	Queue   queue.Config `yaml:"queue"`
}

// InvokeConfig sets invocation defaults.
type InvokeConfig struct {
	DefaultGroups []string      `yaml:"defaultGroups"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AlertingConfig configures alert delivery for failed tasks.
type AlertingConfig struct {
	WebhookURL string            `yaml:"webhookURL"`
	Headers    map[string]string `yaml:"headers"`
}

// RuntimeConfig holds process-wide settings.
type RuntimeConfig struct {
	DataDir string `yaml:"dataDir"`
}

// ResolvePath returns path, or the value of INVOKECHAIN_CONFIG when path is
// empty.
func ResolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return os.Getenv(EnvPath)
}

// Load parses the YAML file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without a file, rooted at baseDir.
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// applyDefaults fills in unset fields.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.jsonl")
		} else {
			c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
		}
	}
	if c.Plugins.PluginDir != "" {
		c.Plugins.PluginDir = resolve(baseDir, c.Plugins.PluginDir)
	}
	if c.Plugins.Plugins == nil {
		c.Plugins.Plugins = map[string]plugin.PluginConfig{}
	}

	if c.Storage.Audit.Driver == "" {
		c.Storage.Audit.Driver = "memory"
	}
	if c.Storage.Tasks.Driver == "" {
		c.Storage.Tasks.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Events.Queue.Redis.Key == "" {
		c.Events.Queue.Redis.Key = "invokechain:events"
	}
	if c.Events.Queue.RabbitMQ.Queue == "" {
		c.Events.Queue.RabbitMQ.Queue = "invokechain.events"
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	for name, backend := range map[string]BackendConfig{"audit": c.Storage.Audit, "tasks": c.Storage.Tasks} {
		switch backend.Driver {
		case "memory":
		case "mysql":
			if err := backend.MySQL.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("storage.%s: %w", name, err))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.%s: unknown driver %q", name, backend.Driver))
		}
	}
	for name, q := range map[string]queue.Config{"queue": c.Queue.Config, "events.queue": c.Events.Queue} {
		if name == "events.queue" && !c.Events.Enabled {
			continue
		}
		switch q.Driver {
		case "memory":
			// Nothing in the process consumes events, so a memory queue
			// would fill up and stall every invocation on publish.
			if name == "events.queue" {
				errs = append(errs, fmt.Errorf("%s: memory driver has no consumer, use redis or rabbitmq", name))
			}
		case "redis":
			if !c.Redis.Enabled() {
				errs = append(errs, fmt.Errorf("%s: redis driver needs redis.address", name))
			}
		case "rabbitmq":
			if q.RabbitMQ.URL == "" {
				errs = append(errs, fmt.Errorf("%s: rabbitmq driver needs a url", name))
			}
		case "":
			errs = append(errs, fmt.Errorf("%s: driver is required", name))
		default:
			errs = append(errs, fmt.Errorf("%s: unknown driver %q", name, q.Driver))
		}
	}
	if c.Chains.Default != "" {
		if _, ok := c.Chains.Endpoints[c.Chains.Default]; !ok {
			errs = append(errs, fmt.Errorf("chains: default %q has no endpoint", c.Chains.Default))
		}
	}
	if err := c.Plugins.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("plugins: %w", err))
	}
	return errors.Join(errs...)
}
