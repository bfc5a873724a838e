package command

import (
	"context"

	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/repository"
)

// DepositStore persists deposits behind the per-saga step guard.
type DepositStore interface {
	GetStep(ctx context.Context, sagaID string) (*repository.Step, error)
	Record(ctx context.Context, in repository.DepositInput) (*models.Deposit, error)
	MarkFailed(ctx context.Context, sagaID, reason string) (*repository.Step, error)
	GetBySaga(ctx context.Context, sagaID string) (*models.DepositStatusView, error)
}

type Notifier interface {
	Notify(ctx context.Context, req models.NotificationRequest) error
}
