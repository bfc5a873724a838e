package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eaglebank/transfer-saga/account-service/internal/repository"
	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
)

const staleClaimAfter = time.Minute

// OutboxStore is the part of the outbox repository the relay drives.
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int, staleAfter time.Duration) ([]repository.OutboxMessage, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkForRetry(ctx context.Context, id string) error
}

// OutboxRelay publishes events committed with a withdraw to the event bus.
// Delivery is at-least-once: a crash between publish and MarkProcessed
// republishes the event.
type OutboxRelay struct {
	store     OutboxStore
	publisher events.Publisher
	interval  time.Duration
	batchSize int
}

func NewOutboxRelay(store OutboxStore, publisher events.Publisher, interval time.Duration, batchSize int) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxRelay{store: store, publisher: publisher, interval: interval, batchSize: batchSize}
}

func (r *OutboxRelay) Run(ctx context.Context) {
	logger.Info("outbox relay started", logger.Fields{"interval": r.interval.String()})
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox relay stopped", nil)
			return
		case <-ticker.C:
			r.RelayOnce(ctx)
		}
	}
}

// RelayOnce publishes one batch and returns how many events were published.
func (r *OutboxRelay) RelayOnce(ctx context.Context) int {
	messages, err := r.store.FetchPending(ctx, r.batchSize, staleClaimAfter)
	if err != nil {
		logger.Error("failed to fetch pending outbox events", err, nil)
		return 0
	}

	published := 0
	for _, msg := range messages {
		fields := logger.Fields{"eventId": msg.ID, "topic": msg.Topic, "attempts": msg.Attempts}

		if err := r.publisher.Publish(ctx, msg.Topic, payload(msg.Payload)); err != nil {
			logger.Error("failed to publish outbox event", err, fields)
			if err := r.store.MarkForRetry(ctx, msg.ID); err != nil {
				logger.Error("failed to return outbox event for retry", err, fields)
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, msg.ID); err != nil {
			logger.Error("failed to mark outbox event processed", err, fields)
			continue
		}
		published++
	}
	return published
}

// payload keeps stored JSON as-is so it is not re-encoded as a base64 string.
func payload(p any) any {
	if raw, ok := p.([]byte); ok {
		return json.RawMessage(raw)
	}
	return p
}
