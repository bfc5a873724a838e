package query

import (
	"context"
	"time"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/models"
)

const defaultListLimit = 100

type SagaReader interface {
	Get(ctx context.Context, sagaID string) (*models.SagaState, error)
	ListByStatus(ctx context.Context, status models.SagaStatus, cutoff time.Time, limit int) ([]models.SagaState, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context, accountNumber string) (*models.Account, error)
}

// SagaQueryService serves saga and balance reads for polling and operators.
type SagaQueryService struct {
	sagas    SagaReader
	accounts AccountReader
}

func NewSagaQueryService(sagas SagaReader, accounts AccountReader) *SagaQueryService {
	return &SagaQueryService{sagas: sagas, accounts: accounts}
}

func (s *SagaQueryService) GetSaga(ctx context.Context, q cqrs.GetSagaQuery) (*models.SagaState, error) {
	return s.sagas.Get(ctx, q.SagaID)
}

// ListSagas defaults to STARTED sagas of any age.
func (s *SagaQueryService) ListSagas(ctx context.Context, q cqrs.ListSagasQuery) ([]models.SagaState, error) {
	status := q.Status
	if status == "" {
		status = models.SagaStarted
	}
	limit := q.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return s.sagas.ListByStatus(ctx, status, time.Now().UTC().Add(-q.OlderThan), limit)
}

func (s *SagaQueryService) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	return s.accounts.GetAccount(ctx, accountNumber)
}
