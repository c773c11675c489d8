// Package redis builds the Redis client shared by the result cache, the Redis
// value resolver and the Redis task queue.
package redis
