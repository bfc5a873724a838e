package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
)

var ErrDeliveryFailed = errors.New("notification delivery failed")

// NotificationService delivers best-effort notifications. A failed delivery
// is announced on notification.failed so the saga can record it; it never
// undoes the transfer.
type NotificationService struct {
	sender    Sender
	publisher events.Publisher
}

func NewNotificationService(sender Sender, publisher events.Publisher) *NotificationService {
	return &NotificationService{sender: sender, publisher: publisher}
}

func (s *NotificationService) Notify(ctx context.Context, cmd cqrs.NotifyCommand) error {
	err := s.sender.Send(ctx, cmd)
	if err == nil {
		return nil
	}

	logger.Warn("notification delivery failed", logger.Fields{"sagaId": cmd.SagaID, "error": err.Error()})
	if perr := s.publisher.Publish(context.WithoutCancel(ctx), events.NotificationFailed, events.NotificationFailedEvent{
		SagaID: cmd.SagaID,
		Reason: err.Error(),
	}); perr != nil {
		logger.Error("failed to publish notification failure", perr, logger.Fields{"sagaId": cmd.SagaID})
	}
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
}
