package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config selects and configures a queue backend.
type Config struct {
	Driver   string         `yaml:"driver"`
	Size     int            `yaml:"size"`
	Redis    RedisSettings  `yaml:"redis"`
	RabbitMQ RabbitSettings `yaml:"rabbitmq"`
}

// RedisSettings are the Redis list options of Config. The connection itself
// is shared with the rest of the service.
type RedisSettings struct {
	Key       string        `yaml:"key"`
	BlockWait time.Duration `yaml:"blockWait"`
}

// RabbitSettings are the RabbitMQ options of Config.
type RabbitSettings struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"autoDelete"`
}

// Open builds the queue named by cfg.Driver. The redis driver needs client.
func Open(_ context.Context, cfg Config, client *redis.Client) (Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(cfg.Size), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis queue needs a redis client")
		}
		return NewRedisQueueFromClient(client, cfg.Redis.Key, cfg.Redis.BlockWait), nil
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("unknown queue driver: %s", cfg.Driver)
	}
}
