package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/client"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/repository"
)

// ErrDepositFenced means the saga's deposit step was already decided as
// FAILED, so this deposit must not be applied.
var ErrDepositFenced = errors.New("deposit refused: saga already failed")

const (
	reasonNotRecorded = "deposit could not be recorded"
	reasonInvalid     = "invalid deposit request"
	reasonFenced      = "deposit fenced by coordinator"
)

// DepositService is the deposit participant. Each saga gets at most one
// deposit; the first recorded outcome in saga_steps wins and every later
// delivery, retry or fence reads it back.
type DepositService struct {
	store               DepositStore
	publisher           events.Publisher
	notifier            Notifier
	notificationTimeout time.Duration
}

func NewDepositService(store DepositStore, publisher events.Publisher, notifier Notifier, notificationTimeout time.Duration) *DepositService {
	return &DepositService{
		store:               store,
		publisher:           publisher,
		notifier:            notifier,
		notificationTimeout: notificationTimeout,
	}
}

// ProcessDeposit is the synchronous deposit used by orchestration. A repeated
// call for the same saga returns the existing deposit id.
func (s *DepositService) ProcessDeposit(ctx context.Context, cmd cqrs.DepositCommand) (*models.DepositResponse, error) {
	fields := logger.Fields{"sagaId": cmd.SagaID, "toAccount": cmd.AccountNumber}

	step, err := s.store.GetStep(ctx, cmd.SagaID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		deposit, err := s.store.Record(ctx, depositInput(cmd))
		switch {
		case err == nil:
			logger.Info("deposit recorded", fields)
			s.notify(ctx, cmd)
			return &models.DepositResponse{DepositID: deposit.ID, Status: models.StatusCompleted}, nil
		case errors.Is(err, repository.ErrStepRecorded):
			if step, err = s.store.GetStep(ctx, cmd.SagaID); err != nil {
				return nil, err
			}
		default:
			logger.Error("deposit failed", err, fields)
			return nil, err
		}
	}

	if step == nil {
		return nil, fmt.Errorf("deposit step for saga %s vanished", cmd.SagaID)
	}
	if step.Outcome == models.StatusFailed {
		logger.Warn("deposit refused for failed saga", logger.Fields{"sagaId": cmd.SagaID, "reason": step.Reason})
		return nil, ErrDepositFenced
	}
	logger.Info("duplicate deposit request, returning recorded deposit", fields)
	return &models.DepositResponse{DepositID: step.DepositID, Status: models.StatusCompleted}, nil
}

// HandleWithdrawSucceeded performs the choreographed deposit and announces
// the recorded outcome. It returns an error only when nothing could be
// recorded, so the event is redelivered instead of being answered with an
// outcome a later delivery might contradict.
func (s *DepositService) HandleWithdrawSucceeded(ctx context.Context, event events.WithdrawSucceededEvent) error {
	cmd := cqrs.DepositCommand{
		SagaID:            event.SagaID,
		AccountNumber:     event.ToAccount,
		Amount:            event.Amount,
		FromAccountNumber: event.FromAccount,
	}
	fields := logger.Fields{"sagaId": cmd.SagaID, "toAccount": cmd.AccountNumber}

	step, err := s.store.GetStep(ctx, cmd.SagaID)
	if err != nil {
		return err
	}
	if step != nil {
		logger.Info("withdraw event redelivered, re-emitting outcome", logger.Fields{"sagaId": cmd.SagaID, "outcome": step.Outcome})
		return s.announce(ctx, cmd, step)
	}

	if cmd.SagaID == "" {
		logger.Warn("dropping withdraw event without saga id", nil)
		return nil
	}
	if cmd.AccountNumber == "" || !cmd.Amount.IsPositive() || !models.IsMoneyAmount(cmd.Amount) {
		return s.fail(ctx, cmd, reasonInvalid)
	}

	if _, err := s.store.Record(ctx, depositInput(cmd)); err != nil {
		if errors.Is(err, repository.ErrStepRecorded) {
			step, err := s.store.GetStep(ctx, cmd.SagaID)
			if err != nil {
				return err
			}
			return s.announce(ctx, cmd, step)
		}
		logger.Error("deposit failed", err, fields)
		return s.fail(ctx, cmd, reasonNotRecorded)
	}

	logger.Info("deposit recorded", fields)
	// Only this delivery recorded the deposit, so it notifies before the
	// publish can fail and hand the saga to a redelivery.
	s.notify(ctx, cmd)
	if err := s.publisher.Publish(ctx, events.DepositSucceeded, events.DepositSucceededEvent{
		SagaID:    cmd.SagaID,
		ToAccount: cmd.AccountNumber,
		Amount:    cmd.Amount,
	}); err != nil {
		return fmt.Errorf("failed to publish deposit success: %w", err)
	}
	return nil
}

// HandleNotificationFailed is informational on the deposit side.
func (s *DepositService) HandleNotificationFailed(_ context.Context, event events.NotificationFailedEvent) error {
	logger.Warn("notification failed for deposit", logger.Fields{"sagaId": event.SagaID, "reason": event.Reason})
	return nil
}

func (s *DepositService) GetDeposit(ctx context.Context, q cqrs.GetDepositQuery) (*models.DepositStatusView, error) {
	return s.store.GetBySaga(ctx, q.SagaID)
}

// Fence records FAILED for a saga with no deposit yet and reports the
// outcome that stands. A deposit that already committed is reported as
// COMPLETED and is left alone.
func (s *DepositService) Fence(ctx context.Context, sagaID string) (*models.DepositStatusView, error) {
	step, err := s.store.MarkFailed(ctx, sagaID, reasonFenced)
	if err != nil {
		return nil, err
	}
	logger.Info("deposit fenced", logger.Fields{"sagaId": sagaID, "outcome": step.Outcome})
	return repository.StepView(step), nil
}

// fail records the failure first so a redelivery cannot deposit afterwards.
func (s *DepositService) fail(ctx context.Context, cmd cqrs.DepositCommand, reason string) error {
	step, err := s.store.MarkFailed(ctx, cmd.SagaID, reason)
	if err != nil {
		logger.Error("failed to record deposit failure, awaiting redelivery", err, logger.Fields{"sagaId": cmd.SagaID})
		return err
	}
	return s.announce(ctx, cmd, step)
}

func (s *DepositService) announce(ctx context.Context, cmd cqrs.DepositCommand, step *repository.Step) error {
	var err error
	if step.Outcome == models.StatusCompleted {
		err = s.publisher.Publish(ctx, events.DepositSucceeded, events.DepositSucceededEvent{
			SagaID:    cmd.SagaID,
			ToAccount: cmd.AccountNumber,
			Amount:    cmd.Amount,
		})
	} else {
		err = s.publisher.Publish(ctx, events.DepositFailed, events.DepositFailedEvent{
			SagaID:    cmd.SagaID,
			ToAccount: cmd.AccountNumber,
			Reason:    step.Reason,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to publish deposit outcome: %w", err)
	}
	return nil
}

// notify is best effort. When the notifier cannot be reached at all the
// failure is published here; when it answers with a rejection it has
// published the failure itself.
func (s *DepositService) notify(ctx context.Context, cmd cqrs.DepositCommand) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notificationTimeout)
	defer cancel()

	err := s.notifier.Notify(notifyCtx, models.NotificationRequest{
		SagaID:           cmd.SagaID,
		UserID:           cmd.AccountNumber,
		NotificationType: models.NotificationDepositSuccess,
		Message:          fmt.Sprintf("Received %s from %s", cmd.Amount.String(), cmd.FromAccountNumber),
	})
	if err == nil {
		return
	}
	logger.Warn("notification failed", logger.Fields{"sagaId": cmd.SagaID, "error": err.Error()})
	if errors.Is(err, client.ErrNotificationRejected) {
		return
	}
	if err := s.publisher.Publish(notifyCtx, events.NotificationFailed, events.NotificationFailedEvent{
		SagaID: cmd.SagaID,
		Reason: err.Error(),
	}); err != nil {
		logger.Error("failed to publish notification failure", err, logger.Fields{"sagaId": cmd.SagaID})
	}
}

func depositInput(cmd cqrs.DepositCommand) repository.DepositInput {
	return repository.DepositInput{
		SagaID:            cmd.SagaID,
		FromAccountNumber: cmd.FromAccountNumber,
		ToAccountNumber:   cmd.AccountNumber,
		Amount:            cmd.Amount,
	}
}
