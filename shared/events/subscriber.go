package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type Handler func(ctx context.Context, event Event) error

// errMalformed marks stream entries that can never be decoded. They are
// acknowledged and dropped.
var errMalformed = errors.New("malformed stream entry")

// Consumer delivers events to a handler until ctx is cancelled.
type Consumer interface {
	Start(ctx context.Context) error
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Topics        []string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// Concurrency bounds how many events of one batch are handled at once.
	Concurrency int
	// ClaimIdle is how long a message may stay pending before this consumer
	// claims it again for redelivery.
	ClaimIdle time.Duration
}

func (c *SubscriberConfig) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.BlockDuration == 0 {
		c.BlockDuration = 5 * time.Second
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.ClaimIdle == 0 {
		c.ClaimIdle = 30 * time.Second
	}
}

// Subscriber reads Redis streams through a consumer group. A message whose
// handler fails is left unacknowledged so it stays pending for redelivery.
type Subscriber struct {
	client    *redis.Client
	cfg       SubscriberConfig
	lastClaim time.Time
}

func NewSubscriber(client *redis.Client, cfg SubscriberConfig) *Subscriber {
	cfg.setDefaults()
	return &Subscriber{client: client, cfg: cfg}
}

func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.ensureGroups(ctx); err != nil {
		return err
	}

	logger.Info("subscriber started", logger.Fields{
		"topics":   s.cfg.Topics,
		"group":    s.cfg.Group,
		"consumer": s.cfg.Consumer,
	})

	for {
		select {
		case <-ctx.Done():
			logger.Info("subscriber stopping", logger.Fields{"group": s.cfg.Group})
			return ctx.Err()
		default:
			if time.Since(s.lastClaim) >= s.cfg.ClaimIdle {
				s.lastClaim = time.Now()
				if err := s.claimPending(ctx); err != nil && ctx.Err() == nil {
					logger.Error("error claiming pending messages", err, logger.Fields{"group": s.cfg.Group})
				}
			}
			if err := s.readMessages(ctx); err != nil && ctx.Err() == nil {
				logger.Error("error reading messages", err, logger.Fields{"group": s.cfg.Group})
				time.Sleep(time.Second)
			}
		}
	}
}

func (s *Subscriber) ensureGroups(ctx context.Context) error {
	for _, topic := range s.cfg.Topics {
		err := s.client.XGroupCreateMkStream(ctx, topic, s.cfg.Group, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("failed to create consumer group for %s: %w", topic, err)
		}
	}
	return nil
}

func (s *Subscriber) readMessages(ctx context.Context) error {
	streamArgs := make([]string, 0, 2*len(s.cfg.Topics))
	streamArgs = append(streamArgs, s.cfg.Topics...)
	for range s.cfg.Topics {
		streamArgs = append(streamArgs, ">")
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  streamArgs,
		Count:    s.cfg.BatchSize,
		Block:    s.cfg.BlockDuration,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		s.dispatch(ctx, stream.Stream, stream.Messages)
	}
	return nil
}

// claimPending takes over messages whose handler failed or whose consumer died.
func (s *Subscriber) claimPending(ctx context.Context) error {
	for _, topic := range s.cfg.Topics {
		messages, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			MinIdle:  s.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    s.cfg.BatchSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to claim pending messages on %s: %w", topic, err)
		}
		s.dispatch(ctx, topic, messages)
	}
	return nil
}

func (s *Subscriber) dispatch(ctx context.Context, stream string, messages []redis.XMessage) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, message := range messages {
		message := message
		g.Go(func() error {
			s.handle(ctx, stream, message)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Subscriber) handle(ctx context.Context, stream string, message redis.XMessage) {
	fields := logger.Fields{"stream": stream, "messageId": message.ID}

	switch err := s.processMessage(ctx, message); {
	case errors.Is(err, errMalformed):
		metrics.EventsConsumed.WithLabelValues(stream, "dropped").Inc()
		logger.Error("dropping malformed message", err, fields)
	case err != nil:
		metrics.EventsConsumed.WithLabelValues(stream, "error").Inc()
		logger.Error("failed to process message", err, fields)
		return
	default:
		metrics.EventsConsumed.WithLabelValues(stream, "ok").Inc()
	}

	if err := s.client.XAck(ctx, stream, s.cfg.Group, message.ID).Err(); err != nil {
		logger.Error("failed to ack message", err, fields)
	}
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("%w: missing event field", errMalformed)
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	return s.cfg.Handler(ctx, event)
}
