// Package queue carries string messages between producers and worker pools.
// Job ids and invocation events travel through it.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

// Handler processes one message. A non-nil error asks the queue to redeliver
// when the backend supports it.
type Handler func(ctx context.Context, msg string) error

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, msg string) error
	Close() error
}

// Consumer dispatches messages to a pool of workers until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both ends of a queue.
type Queue interface {
	Producer
	Consumer
}
