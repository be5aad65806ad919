package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/storyforge/pkg/session"
)

// Broadcaster publishes session events to Redis Pub/Sub so that other
// processes can follow a session.
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Channel is the Pub/Sub channel of a session.
func Channel(sessionID string) string {
	return fmt.Sprintf("session-events:%s", sessionID)
}

// Publish publishes one event to its session's channel.
func (b *Broadcaster) Publish(ctx context.Context, event session.Event) error {
	channel := Channel(event.SessionID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"turn", event.Turn,
	)
	return nil
}

// Relay publishes events until the channel closes or ctx ends. Publish
// failures are logged and skipped.
func (b *Broadcaster) Relay(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = b.Publish(ctx, e)
		}
	}
}
