package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes a Redis list queue.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
}

// RedisQueue implements a queue over a Redis list with LPUSH/BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
	owned  bool
}

// NewRedisQueue connects to Redis and returns a queue owning the client.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	q := NewRedisQueueFromClient(client, cfg.Key, cfg.BlockWait)
	q.owned = true
	return q, nil
}

// NewRedisQueueFromClient builds a queue on a shared client. Close leaves the
// client open.
func NewRedisQueueFromClient(client *redis.Client, key string, wait time.Duration) *RedisQueue {
	if key == "" {
		key = "invokechain:jobs"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, wait: wait}
}

// Publish pushes msg onto the list.
func (q *RedisQueue) Publish(ctx context.Context, msg string) error {
	if err := q.client.LPush(ctx, q.key, msg).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Consume pops messages with BRPOP. Failed messages are pushed back onto the
// consuming end of the list and picked up again first.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if ctx.Err() != nil {
						errCh <- ctx.Err()
						return
					}
					errCh <- fmt.Errorf("redis consume: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				msg := values[1]
				if handlerErr := handler(ctx, msg); handlerErr != nil {
					_ = q.client.RPush(ctx, q.key, msg).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close releases the client when the queue owns it.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil || !q.owned {
		return nil
	}
	return q.client.Close()
}
