package command

import (
	"context"

	"github.com/eaglebank/transfer-saga/account-service/internal/repository"
	"github.com/eaglebank/transfer-saga/shared/models"
)

// Ledger performs the local withdraw transaction.
type Ledger interface {
	Withdraw(ctx context.Context, in repository.WithdrawInput) (*models.SagaState, error)
}

// DepositClient reaches the deposit participant synchronously.
type DepositClient interface {
	Deposit(ctx context.Context, req models.DepositRequest) (*models.DepositResponse, error)
	Fence(ctx context.Context, sagaID string) (*models.DepositStatusView, error)
}
