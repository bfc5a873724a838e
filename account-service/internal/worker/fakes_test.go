package worker

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eaglebank/transfer-saga/account-service/internal/repository"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/shopspring/decimal"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// sagaBook is an in-memory saga store with a credit counter standing in for
// the account ledger.
type sagaBook struct {
	mu            sync.Mutex
	sagas         map[string]*models.SagaState
	credits       int
	compensateErr error
	listErr       error
}

func newSagaBook(sagas ...models.SagaState) *sagaBook {
	b := &sagaBook{sagas: map[string]*models.SagaState{}}
	for i := range sagas {
		s := sagas[i]
		b.sagas[s.SagaID] = &s
	}
	return b
}

func stuckSaga(id string, age time.Duration) models.SagaState {
	ts := time.Now().UTC().Add(-age)
	return models.SagaState{
		SagaID:      id,
		PatternType: models.PatternOrchestration,
		Amount:      decimal.NewFromInt(100),
		Status:      models.SagaStarted,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func (b *sagaBook) Get(_ context.Context, sagaID string) (*models.SagaState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sagas[sagaID]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	cp := *s
	return &cp, nil
}

func (b *sagaBook) Transition(_ context.Context, sagaID string, to models.SagaStatus, from []models.SagaStatus) (*models.SagaState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sagas[sagaID]
	if !ok {
		return nil, nil
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = to
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (b *sagaBook) Compensate(_ context.Context, sagaID string) (*models.SagaState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.compensateErr != nil {
		return nil, b.compensateErr
	}
	s, ok := b.sagas[sagaID]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	if s.Status != models.SagaStarted {
		return nil, nil
	}
	b.credits++
	s.Status = models.SagaCompensated
	cp := *s
	return &cp, nil
}

func (b *sagaBook) ListByStatus(_ context.Context, status models.SagaStatus, cutoff time.Time, limit int) ([]models.SagaState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []models.SagaState
	for _, s := range b.sagas {
		if s.Status == status && s.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (b *sagaBook) status(sagaID string) models.SagaStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sagas[sagaID].Status
}

// fakeFence answers with the outcome configured per saga; unknown sagas are
// fenced as FAILED. recorded holds outcomes Status reports before any fence.
type fakeFence struct {
	outcomes    map[string]string
	recorded    map[string]string
	err         error
	statusErr   error
	calls       []string
	statusCalls []string
}

func (f *fakeFence) Status(_ context.Context, sagaID string) (*models.DepositStatusView, error) {
	f.statusCalls = append(f.statusCalls, sagaID)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status, ok := f.recorded[sagaID]
	if !ok {
		status = models.DepositNotFound
	}
	return &models.DepositStatusView{SagaID: sagaID, Status: status}, nil
}

func (f *fakeFence) Fence(_ context.Context, sagaID string) (*models.DepositStatusView, error) {
	f.calls = append(f.calls, sagaID)
	if f.err != nil {
		return nil, f.err
	}
	status, ok := f.outcomes[sagaID]
	if !ok {
		status = models.StatusFailed
	}
	return &models.DepositStatusView{SagaID: sagaID, Status: status}, nil
}

type fakeOutbox struct {
	pending   []repository.OutboxMessage
	fetchErr  error
	processed []string
	retried   []string
}

func (f *fakeOutbox) FetchPending(_ context.Context, limit int, _ time.Duration) ([]repository.OutboxMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutbox) MarkProcessed(_ context.Context, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeOutbox) MarkForRetry(_ context.Context, id string) error {
	f.retried = append(f.retried, id)
	return nil
}
