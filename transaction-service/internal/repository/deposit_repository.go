package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eaglebank/transfer-saga/shared/models"
	sharedredis "github.com/eaglebank/transfer-saga/shared/redis"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/eaglebank/transfer-saga/shared/utils"
	"github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	StepDeposit = "DEPOSIT"

	depositViewKeyPrefix = "deposit:view:"
	uniqueViolation      = "23505"
)

// ErrStepRecorded means another delivery already decided the deposit step.
var ErrStepRecorded = errors.New("deposit step already recorded")

// Step is the recorded outcome of the deposit step of one saga.
type Step struct {
	SagaID    string
	Outcome   string
	DepositID string
	Reason    string
}

type DepositInput struct {
	SagaID            string
	FromAccountNumber string
	ToAccountNumber   string
	Amount            decimal.Decimal
}

// DepositRepository writes the deposit ledger and the saga_steps guard that
// makes every deposit at-most-once per saga.
type DepositRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.DepositStatusView]
}

func NewDepositRepository(db *sql.DB, redisClient *goredis.Client) *DepositRepository {
	r := &DepositRepository{db: db}
	if redisClient != nil {
		r.cache = sharedredis.NewViewCache[models.DepositStatusView](redisClient, depositViewKeyPrefix, 24*time.Hour)
	}
	return r
}

// GetStep returns nil when no outcome has been recorded for the saga.
func (r *DepositRepository) GetStep(ctx context.Context, sagaID string) (*Step, error) {
	query := `
		SELECT saga_id, outcome, COALESCE(deposit_id, ''), COALESCE(reason, '')
		FROM saga_steps
		WHERE saga_id = $1 AND step = $2
	`
	var s Step
	err := r.db.QueryRowContext(ctx, query, sagaID, StepDeposit).Scan(&s.SagaID, &s.Outcome, &s.DepositID, &s.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, saga.Persistence("failed to read deposit step", err)
	}
	return &s, nil
}

// Record writes the transaction, the deposit and a COMPLETED step in one
// local transaction. It returns ErrStepRecorded when the saga already has an
// outcome, and saga.ErrInvalidAmount for an amount the columns would round.
func (r *DepositRepository) Record(ctx context.Context, in DepositInput) (*models.Deposit, error) {
	if !in.Amount.IsPositive() || !models.IsMoneyAmount(in.Amount) {
		return nil, saga.ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, saga.Persistence("failed to begin deposit", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	transactionID := utils.GenerateID("tan")
	deposit := &models.Deposit{
		ID:            utils.GenerateID("dep"),
		TransactionID: transactionID,
		SagaID:        in.SagaID,
		AccountNumber: in.ToAccountNumber,
		Amount:        in.Amount,
		Status:        models.StatusCompleted,
		CreatedAt:     now,
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO saga_steps (saga_id, step, outcome, deposit_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (saga_id, step) DO NOTHING
	`, in.SagaID, StepDeposit, models.StatusCompleted, deposit.ID, now)
	if err != nil {
		return nil, saga.Persistence("failed to record deposit step", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrStepRecorded
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, saga_id, from_account_number, to_account_number, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, transactionID, in.SagaID, in.FromAccountNumber, in.ToAccountNumber, in.Amount, models.StatusCompleted, now)
	if err != nil {
		return nil, mapInsertError("failed to create transaction", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deposits (id, transaction_id, saga_id, account_number, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, deposit.ID, transactionID, in.SagaID, in.ToAccountNumber, in.Amount, models.StatusCompleted, now)
	if err != nil {
		return nil, mapInsertError("failed to create deposit", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, saga.Persistence("failed to commit deposit", err)
	}
	return deposit, nil
}

// MarkFailed records a FAILED outcome unless one is already recorded, and
// returns whichever outcome is stored afterwards.
func (r *DepositRepository) MarkFailed(ctx context.Context, sagaID, reason string) (*Step, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO saga_steps (saga_id, step, outcome, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (saga_id, step) DO NOTHING
	`, sagaID, StepDeposit, models.StatusFailed, reason, time.Now().UTC())
	if err != nil {
		return nil, saga.Persistence("failed to record deposit failure", err)
	}

	step, err := r.GetStep(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, saga.Persistence("deposit failure not visible after insert", sql.ErrNoRows)
	}
	return step, nil
}

// GetBySaga answers reconciliation lookups. Recorded outcomes never change,
// so they are cached once read.
func (r *DepositRepository) GetBySaga(ctx context.Context, sagaID string) (*models.DepositStatusView, error) {
	if view, ok := r.cache.Get(ctx, sagaID); ok {
		return view, nil
	}

	step, err := r.GetStep(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return &models.DepositStatusView{SagaID: sagaID, Status: models.DepositNotFound}, nil
	}

	view := StepView(step)
	r.cache.Set(ctx, sagaID, view)
	return view, nil
}

func StepView(s *Step) *models.DepositStatusView {
	return &models.DepositStatusView{
		SagaID:    s.SagaID,
		Status:    s.Outcome,
		DepositID: s.DepositID,
		Reason:    s.Reason,
	}
}

// mapInsertError treats a unique violation on saga_id as a concurrent
// delivery that won the race.
func mapInsertError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrStepRecorded
	}
	return saga.Persistence(op, err)
}
