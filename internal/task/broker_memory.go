package task

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker for tests and single-binary runs.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan []byte
}

// NewMemoryBroker builds an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]chan []byte)}
}

func (b *MemoryBroker) queue(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan []byte, 1024)
		b.queues[name] = q
	}
	return q
}

// Enqueue appends to the queue, blocking only if it is full.
func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, payload []byte) error {
	select {
	case b.queue(queue) <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue waits up to timeout for the next payload.
func (b *MemoryBroker) Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-b.queue(queue):
		return payload, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
