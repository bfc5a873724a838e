package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher sends one event to a topic. Delivery is at-least-once.
type Publisher interface {
	Publish(ctx context.Context, topic string, data any) error
}

// RedisPublisher appends events to the Redis stream named after the topic.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, data any) error {
	eventJSON, err := envelope(topic, data)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			"event": eventJSON,
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

func envelope(topic string, data any) ([]byte, error) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return eventJSON, nil
}
