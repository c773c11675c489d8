package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a channel backed queue for tests and single node setups.
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue creates a queue buffering up to size messages.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish enqueues msg, blocking while the buffer is full until ctx is done
// or the queue is closed.
func (q *MemoryQueue) Publish(ctx context.Context, msg string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case q.ch <- msg:
		return nil
	}
}

// Consume runs workerCount workers until ctx is done or the queue is closed.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case msg := <-q.ch:
					_ = handler(ctx, msg)
				}
			}
		}()
	}
	defer wg.Wait()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Len returns the number of buffered messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting messages and releases blocked publishers.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
