package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher is the subset of *redis.Client used by RedisBridge.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBridge forwards outcome events as JSON to a Redis pub/sub channel so
// consumers in other processes can react to task completion.
type RedisBridge struct {
	client  RedisPublisher
	channel string
	logger  *slog.Logger
}

// NewRedisBridge creates a bridge publishing to channel.
func NewRedisBridge(client RedisPublisher, channel string, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_bridge", "channel", channel),
	}
}

// HandleOutcome publishes event to the configured channel.
func (b *RedisBridge) HandleOutcome(ctx context.Context, event *OutcomeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode outcome event: %w", err)
	}

	receivers, err := b.client.Publish(ctx, b.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish outcome to redis: %w", err)
	}

	b.logger.Debug("forwarded outcome",
		"event_id", event.ID,
		"event_type", event.Type,
		"subject_key", event.SubjectKey,
		"receivers", receivers)
	return nil
}

var _ Listener = (*RedisBridge)(nil)
