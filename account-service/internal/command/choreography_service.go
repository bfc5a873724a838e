package command

import (
	"context"

	"github.com/eaglebank/transfer-saga/account-service/internal/repository"
	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/google/uuid"
)

const msgDepositInProgress = "withdraw completed, deposit in progress"

// ChoreographyService performs the withdraw and hands the rest of the saga
// to the deposit participant through account.withdraw.success.
type ChoreographyService struct {
	ledger    Ledger
	publisher events.Publisher
}

func NewChoreographyService(ledger Ledger, publisher events.Publisher) *ChoreographyService {
	return &ChoreographyService{ledger: ledger, publisher: publisher}
}

// InitiateTransfer returns STARTED once the withdraw and its outbox event
// commit together; the final status is observed on the saga record.
func (s *ChoreographyService) InitiateTransfer(ctx context.Context, cmd cqrs.TransferCommand) (models.TransferResult, error) {
	sagaID := uuid.NewString()

	_, err := s.ledger.Withdraw(ctx, repository.WithdrawInput{
		SagaID:      sagaID,
		Pattern:     models.PatternChoreography,
		FromAccount: cmd.FromAccount,
		ToAccount:   cmd.ToAccount,
		Amount:      cmd.Amount,
		Event: &repository.OutboxMessage{
			Topic: events.WithdrawSucceeded,
			Payload: events.WithdrawSucceededEvent{
				SagaID:      sagaID,
				FromAccount: cmd.FromAccount,
				ToAccount:   cmd.ToAccount,
				Amount:      cmd.Amount,
			},
		},
	})
	if err != nil {
		reason := saga.FailureMessage(err)
		logger.Error("withdraw rejected", err, logger.Fields{"sagaId": sagaID, "fromAccount": cmd.FromAccount})

		if perr := s.publisher.Publish(ctx, events.WithdrawFailed, events.WithdrawFailedEvent{
			SagaID:      sagaID,
			FromAccount: cmd.FromAccount,
			Reason:      reason,
		}); perr != nil {
			logger.Error("failed to publish withdraw failure", perr, logger.Fields{"sagaId": sagaID})
		}
		return s.result(sagaID, models.SagaFailed, reason), err
	}

	logger.Info("withdraw committed, deposit handed off", logger.Fields{"sagaId": sagaID, "amount": cmd.Amount.String()})
	return s.result(sagaID, models.SagaStarted, msgDepositInProgress), nil
}

func (s *ChoreographyService) result(sagaID string, status models.SagaStatus, message string) models.TransferResult {
	metrics.TransferOutcomes.WithLabelValues(string(models.PatternChoreography), string(status)).Inc()
	return models.TransferResult{SagaID: sagaID, Status: status, Message: message}
}
