package command

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/repository"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// memDeposits mirrors the saga_steps guard of DepositRepository.
type memDeposits struct {
	mu        sync.Mutex
	steps     map[string]*repository.Step
	deposits  map[string]*models.Deposit
	recordErr error
	failErr   error
	seq       int
}

func newMemDeposits() *memDeposits {
	return &memDeposits{steps: map[string]*repository.Step{}, deposits: map[string]*models.Deposit{}}
}

func (m *memDeposits) GetStep(_ context.Context, sagaID string) (*repository.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[sagaID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memDeposits) Record(_ context.Context, in repository.DepositInput) (*models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	if _, ok := m.steps[in.SagaID]; ok {
		return nil, repository.ErrStepRecorded
	}
	m.seq++
	d := &models.Deposit{ID: "dep-" + in.SagaID, SagaID: in.SagaID, AccountNumber: in.ToAccountNumber, Amount: in.Amount, Status: models.StatusCompleted}
	m.deposits[in.SagaID] = d
	m.steps[in.SagaID] = &repository.Step{SagaID: in.SagaID, Outcome: models.StatusCompleted, DepositID: d.ID}
	return d, nil
}

func (m *memDeposits) MarkFailed(_ context.Context, sagaID, reason string) (*repository.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if _, ok := m.steps[sagaID]; !ok {
		m.steps[sagaID] = &repository.Step{SagaID: sagaID, Outcome: models.StatusFailed, Reason: reason}
	}
	cp := *m.steps[sagaID]
	return &cp, nil
}

func (m *memDeposits) GetBySaga(ctx context.Context, sagaID string) (*models.DepositStatusView, error) {
	step, _ := m.GetStep(ctx, sagaID)
	if step == nil {
		return &models.DepositStatusView{SagaID: sagaID, Status: models.DepositNotFound}, nil
	}
	return repository.StepView(step), nil
}

func (m *memDeposits) depositCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deposits)
}

type published struct {
	topic string
	data  any
}

type mockPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, topic string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, published{topic: topic, data: data})
	return nil
}

func (m *mockPublisher) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, p := range m.sent {
		out[i] = p.topic
	}
	return out
}

type mockNotifier struct {
	err   error
	calls int
}

func (m *mockNotifier) Notify(_ context.Context, _ models.NotificationRequest) error {
	m.calls++
	return m.err
}
