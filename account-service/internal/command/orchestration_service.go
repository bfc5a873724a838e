package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-saga/account-service/internal/repository"
	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/google/uuid"
)

const (
	msgTransferCompleted   = "transfer completed"
	msgCompensationPending = "deposit failed, compensation pending"
)

// OrchestrationService drives withdraw, a synchronous deposit call and then
// completion or compensation. It publishes no events.
type OrchestrationService struct {
	ledger         Ledger
	deposits       DepositClient
	coordinator    *saga.Coordinator
	depositTimeout time.Duration
}

func NewOrchestrationService(
	ledger Ledger,
	deposits DepositClient,
	coordinator *saga.Coordinator,
	depositTimeout time.Duration,
) *OrchestrationService {
	return &OrchestrationService{
		ledger:         ledger,
		deposits:       deposits,
		coordinator:    coordinator,
		depositTimeout: depositTimeout,
	}
}

// ExecuteTransfer always returns a result carrying the saga id and status.
// The error, when set, is the tagged cause behind a non-COMPLETED status.
func (s *OrchestrationService) ExecuteTransfer(ctx context.Context, cmd cqrs.TransferCommand) (models.TransferResult, error) {
	sagaID := uuid.NewString()
	fields := logger.Fields{"sagaId": sagaID, "fromAccount": cmd.FromAccount, "toAccount": cmd.ToAccount}

	_, err := s.ledger.Withdraw(ctx, repository.WithdrawInput{
		SagaID:      sagaID,
		Pattern:     models.PatternOrchestration,
		FromAccount: cmd.FromAccount,
		ToAccount:   cmd.ToAccount,
		Amount:      cmd.Amount,
	})
	if err != nil {
		logger.Error("withdraw rejected", err, fields)
		return s.result(sagaID, models.SagaFailed, saga.FailureMessage(err)), err
	}

	// The withdraw is committed; the rest of the saga must not be cut short
	// by the caller going away.
	sagaCtx := context.WithoutCancel(ctx)

	depositErr := s.deposit(sagaCtx, sagaID, cmd)
	if depositErr == nil {
		return s.complete(sagaCtx, sagaID, fields)
	}

	logger.Error("deposit failed", depositErr, fields)
	return s.recover(sagaCtx, sagaID, depositErr, fields)
}

func (s *OrchestrationService) deposit(ctx context.Context, sagaID string, cmd cqrs.TransferCommand) error {
	callCtx, cancel := context.WithTimeout(ctx, s.depositTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.deposits.Deposit(callCtx, models.DepositRequest{
		SagaID:            sagaID,
		AccountNumber:     cmd.ToAccount,
		Amount:            cmd.Amount,
		FromAccountNumber: cmd.FromAccount,
	})
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
	}
	metrics.DepositCallDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}

func (s *OrchestrationService) complete(ctx context.Context, sagaID string, fields logger.Fields) (models.TransferResult, error) {
	res, err := s.coordinator.Complete(ctx, sagaID)
	if err != nil {
		// Both legs are committed; the reconciler settles the record later.
		logger.Error("failed to record saga completion", err, fields)
		return s.result(sagaID, models.SagaCompleted, msgTransferCompleted), nil
	}
	if !saga.IsSettled(res.Saga.Status) {
		logger.Error("deposit confirmed for unsettled saga", nil, logger.Fields{"sagaId": sagaID, "status": res.Saga.Status})
		return s.result(sagaID, res.Saga.Status, "deposit confirmed after saga was "+string(res.Saga.Status)), nil
	}
	return s.result(sagaID, res.Saga.Status, msgTransferCompleted), nil
}

// recover decides what a failed or timed-out deposit call means. The deposit
// outcome is fenced first so a deposit that landed after all is completed
// rather than compensated. If the fence cannot be reached the withdraw is
// compensated.
func (s *OrchestrationService) recover(ctx context.Context, sagaID string, depositErr error, fields logger.Fields) (models.TransferResult, error) {
	fenceCtx, cancel := context.WithTimeout(ctx, s.depositTimeout)
	view, fenceErr := s.deposits.Fence(fenceCtx, sagaID)
	cancel()
	if fenceErr != nil {
		logger.Warn("deposit fence unavailable, compensating", logger.Fields{"sagaId": sagaID, "error": fenceErr.Error()})
	} else if view.Status == models.StatusCompleted {
		logger.Info("deposit landed despite failed call", fields)
		return s.complete(ctx, sagaID, fields)
	}

	reason := depositErr.Error()
	res, err := s.coordinator.Compensate(ctx, sagaID)
	if err != nil {
		logger.Error("compensation failed, saga left STARTED", err, fields)
		return s.result(sagaID, models.SagaStarted, fmt.Sprintf("%s: %s", msgCompensationPending, reason)), err
	}

	switch {
	case res.Saga.Status == models.SagaCompensated:
		return s.result(sagaID, models.SagaFailed, "deposit failed: "+reason),
			fmt.Errorf("%w: %v", saga.ErrDepositRejected, depositErr)
	case saga.IsSettled(res.Saga.Status):
		return s.result(sagaID, res.Saga.Status, msgTransferCompleted), nil
	default:
		return s.result(sagaID, res.Saga.Status, "deposit failed: "+reason), depositErr
	}
}

func (s *OrchestrationService) result(sagaID string, status models.SagaStatus, message string) models.TransferResult {
	metrics.TransferOutcomes.WithLabelValues(string(models.PatternOrchestration), string(status)).Inc()
	return models.TransferResult{SagaID: sagaID, Status: status, Message: message}
}
