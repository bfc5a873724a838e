package command

import (
	"context"
	"errors"

	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/saga"
)

// SagaEventHandler finalizes or compensates choreographed sagas from the
// deposit participant's and the notifier's events.
type SagaEventHandler struct {
	coordinator *saga.Coordinator
}

func NewSagaEventHandler(coordinator *saga.Coordinator) *SagaEventHandler {
	return &SagaEventHandler{coordinator: coordinator}
}

// Topics lists the topics HandleEvent understands.
func (h *SagaEventHandler) Topics() []string {
	return []string{events.DepositSucceeded, events.DepositFailed, events.NotificationFailed}
}

// HandleEvent returns an error only when the event should be redelivered.
func (h *SagaEventHandler) HandleEvent(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.DepositSucceeded:
		data, err := events.Decode[events.DepositSucceededEvent](event)
		if err != nil {
			return h.drop(event, err)
		}
		_, err = h.coordinator.Complete(ctx, data.SagaID)
		return h.settle(event, data.SagaID, err)

	case events.DepositFailed:
		data, err := events.Decode[events.DepositFailedEvent](event)
		if err != nil {
			return h.drop(event, err)
		}
		logger.Info("deposit failed, compensating", logger.Fields{"sagaId": data.SagaID, "reason": data.Reason})
		_, err = h.coordinator.Compensate(ctx, data.SagaID)
		return h.settle(event, data.SagaID, err)

	case events.NotificationFailed:
		data, err := events.Decode[events.NotificationFailedEvent](event)
		if err != nil {
			return h.drop(event, err)
		}
		_, err = h.coordinator.MarkNotificationFailed(ctx, data.SagaID)
		return h.settle(event, data.SagaID, err)

	default:
		logger.Warn("ignoring event", logger.Fields{"type": event.Type, "eventId": event.ID})
		return nil
	}
}

func (h *SagaEventHandler) settle(event events.Event, sagaID string, err error) error {
	if errors.Is(err, saga.ErrSagaNotFound) || errors.Is(err, saga.ErrAccountNotFound) {
		logger.Warn("event for unknown saga ignored", logger.Fields{"type": event.Type, "sagaId": sagaID, "reason": err.Error()})
		return nil
	}
	return err
}

// drop discards a payload that can never be decoded; redelivering it would
// only block the stream.
func (h *SagaEventHandler) drop(event events.Event, err error) error {
	logger.Error("dropping undecodable event", err, logger.Fields{"type": event.Type, "eventId": event.ID})
	return nil
}
