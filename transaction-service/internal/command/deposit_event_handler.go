package command

import (
	"context"

	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
)

// Topics lists the topics HandleEvent understands.
func (s *DepositService) Topics() []string {
	return []string{events.WithdrawSucceeded, events.NotificationFailed}
}

// HandleEvent routes bus events to the deposit participant. Undecodable
// payloads are dropped.
func (s *DepositService) HandleEvent(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.WithdrawSucceeded:
		data, err := events.Decode[events.WithdrawSucceededEvent](event)
		if err != nil {
			logger.Error("dropping undecodable event", err, logger.Fields{"type": event.Type, "eventId": event.ID})
			return nil
		}
		return s.HandleWithdrawSucceeded(ctx, data)

	case events.NotificationFailed:
		data, err := events.Decode[events.NotificationFailedEvent](event)
		if err != nil {
			logger.Error("dropping undecodable event", err, logger.Fields{"type": event.Type, "eventId": event.ID})
			return nil
		}
		return s.HandleNotificationFailed(ctx, data)

	default:
		logger.Warn("ignoring event", logger.Fields{"type": event.Type, "eventId": event.ID})
		return nil
	}
}
