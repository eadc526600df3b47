// Package events is a thin pub/sub layer over Redis used to push
// analysis-completed notifications to connected SSE clients. Delivery is
// best effort; clients reconcile through job-status polling.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TypeGameAnalysisCompleted is the event type emitted when a single
// game's analysis lands.
const TypeGameAnalysisCompleted = "game_analysis_completed"

// Event is the wire payload published on a user channel.
type Event struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	GameID    int64     `json:"game_id"`
	Timestamp time.Time `json:"timestamp"`
}

// UserChannel names the per-user analysis notification channel.
func UserChannel(userID int64) string {
	return fmt.Sprintf("analysis_completed:user:%d", userID)
}

// Bus publishes and subscribes over a shared Redis client.
type Bus struct {
	rdb *redis.Client
	log *logrus.Entry
}

// NewBus wraps an existing Redis client.
func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb, log: logrus.WithField("component", "events")}
}

// Publish sends the event to its owner's channel and returns the number
// of live subscribers. Failures are logged and swallowed: a missed
// notification must never fail the task that produced it.
func (b *Bus) Publish(ctx context.Context, ev Event) int64 {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.WithError(err).Warn("encode event")
		return 0
	}
	n, err := b.rdb.Publish(ctx, UserChannel(ev.UserID), payload).Result()
	if err != nil {
		b.log.WithError(err).WithField("user_id", ev.UserID).Warn("publish event")
		return 0
	}
	return n
}

// GameAnalysisCompleted publishes the completion event for one game.
func (b *Bus) GameAnalysisCompleted(ctx context.Context, userID, gameID int64) {
	b.Publish(ctx, Event{
		Type:      TypeGameAnalysisCompleted,
		UserID:    userID,
		GameID:    gameID,
		Timestamp: time.Now().UTC(),
	})
}

// Subscription is a live subscription to one user channel.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe opens a subscription to the user's channel. The returned
// subscription must be closed by the caller.
func (b *Bus) Subscribe(ctx context.Context, userID int64) *Subscription {
	return &Subscription{pubsub: b.rdb.Subscribe(ctx, UserChannel(userID))}
}

// Poll waits up to timeout for the next event. It returns (nil, nil)
// when the timeout elapses quietly; subscription confirmations are
// skipped transparently.
func (s *Subscription) Poll(ctx context.Context, timeout time.Duration) (*Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		raw, err := s.pubsub.ReceiveTimeout(ctx, remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil
			}
			return nil, err
		}
		msg, ok := raw.(*redis.Message)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			continue
		}
		return &ev, nil
	}
}

// Close tears the subscription down.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
