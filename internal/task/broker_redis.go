package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker backs queues with Redis lists: LPUSH to enqueue, BRPOP to
// dequeue, so each queue is a FIFO shared by every worker process.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func queueKey(queue string) string {
	return "tasks:" + queue
}

// Enqueue pushes the payload onto the queue's list.
func (b *RedisBroker) Enqueue(ctx context.Context, queue string, payload []byte) error {
	depth, err := b.rdb.LPush(ctx, queueKey(queue), payload).Result()
	if err != nil {
		return fmt.Errorf("lpush %s: %w", queue, err)
	}
	queueDepth.WithLabelValues(queue).Set(float64(depth))
	return nil
}

// Dequeue blocks up to timeout for the oldest payload.
func (b *RedisBroker) Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := b.rdb.BRPop(ctx, timeout, queueKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop %s: %w", queue, err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop %s: unexpected reply of %d elements", queue, len(res))
	}
	queueDepth.WithLabelValues(queue).Dec()
	return []byte(res[1]), nil
}
