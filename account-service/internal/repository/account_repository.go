package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/eaglebank/transfer-saga/shared/utils"
	"github.com/shopspring/decimal"
)

// WithdrawInput describes one withdraw attempt. Event, when set, is written
// to the outbox inside the withdraw transaction.
type WithdrawInput struct {
	SagaID      string
	Pattern     models.PatternType
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
	Event       *OutboxMessage
}

// AccountWriteRepository owns every balance mutation. Each method is one
// local transaction spanning the account row, its ledger entry and the saga
// record, so none of them is ever visible without the others.
type AccountWriteRepository struct {
	db *sql.DB
}

func NewAccountWriteRepository(db *sql.DB) *AccountWriteRepository {
	return &AccountWriteRepository{db: db}
}

const (
	lockAccountByNumberSQL = `
		SELECT id, account_number, balance
		FROM accounts
		WHERE account_number = $1
		FOR UPDATE
	`
	debitAccountSQL = `
		UPDATE accounts SET balance = balance - $1, updated_at = $2 WHERE id = $3
	`
	creditAccountSQL = `
		UPDATE accounts SET balance = balance + $1, updated_at = $2 WHERE id = $3
	`
	insertSagaSQL = `
		INSERT INTO saga_states (saga_id, pattern_type, from_account_id, to_account_number, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	insertAccountTransactionSQL = `
		INSERT INTO account_transactions (id, account_id, amount, type, saga_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	lockSagaSQL = `
		SELECT saga_id, pattern_type, from_account_id, to_account_number, amount, status, created_at, updated_at
		FROM saga_states
		WHERE saga_id = $1
		FOR UPDATE
	`
	compensateAccountTransactionSQL = `
		UPDATE account_transactions SET status = $2 WHERE saga_id = $1 AND status = $3
	`
	compensateSagaSQL = `
		UPDATE saga_states SET status = $2, updated_at = $3 WHERE saga_id = $1
	`
)

// Withdraw debits the source account and records the STARTED saga. It
// returns saga.ErrInvalidAmount, saga.ErrAccountNotFound or
// saga.ErrInsufficientFunds without writing anything, and a
// saga.PersistenceError when the transaction could not commit.
func (r *AccountWriteRepository) Withdraw(ctx context.Context, in WithdrawInput) (*models.SagaState, error) {
	// Postgres would round a sub-cent amount differently in each column.
	if !in.Amount.IsPositive() || !models.IsMoneyAmount(in.Amount) {
		return nil, saga.ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, saga.Persistence("failed to begin withdraw", err)
	}
	defer tx.Rollback()

	var account models.Account
	err = tx.QueryRowContext(ctx, lockAccountByNumberSQL, in.FromAccount).
		Scan(&account.ID, &account.AccountNumber, &account.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrAccountNotFound
	}
	if err != nil {
		return nil, saga.Persistence("failed to lock account", err)
	}
	if account.Balance.LessThan(in.Amount) {
		return nil, saga.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, debitAccountSQL, in.Amount, now, account.ID); err != nil {
		return nil, saga.Persistence("failed to debit account", err)
	}

	state := &models.SagaState{
		SagaID:          in.SagaID,
		PatternType:     in.Pattern,
		FromAccountID:   account.ID,
		ToAccountNumber: in.ToAccount,
		Amount:          in.Amount,
		Status:          models.SagaStarted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := tx.ExecContext(ctx, insertSagaSQL,
		state.SagaID, state.PatternType, state.FromAccountID, state.ToAccountNumber,
		state.Amount, state.Status, now,
	); err != nil {
		return nil, saga.Persistence("failed to record saga", err)
	}

	if _, err := tx.ExecContext(ctx, insertAccountTransactionSQL,
		utils.GenerateID("atx"), account.ID, in.Amount, models.TypeWithdraw,
		in.SagaID, models.StatusCompleted, now,
	); err != nil {
		return nil, saga.Persistence("failed to record withdraw", err)
	}

	if in.Event != nil {
		if err := insertOutbox(ctx, tx, *in.Event, now); err != nil {
			return nil, saga.Persistence("failed to record outbox event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, saga.Persistence("failed to commit withdraw", err)
	}
	return state, nil
}

// Compensate credits the withdrawn amount back while the saga is STARTED.
// It returns nil, nil when the saga already left STARTED, and
// saga.ErrSagaNotFound or saga.ErrAccountNotFound when there is nothing to
// compensate.
func (r *AccountWriteRepository) Compensate(ctx context.Context, sagaID string) (*models.SagaState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, saga.Persistence("failed to begin compensation", err)
	}
	defer tx.Rollback()

	var state models.SagaState
	err = tx.QueryRowContext(ctx, lockSagaSQL, sagaID).Scan(
		&state.SagaID, &state.PatternType, &state.FromAccountID, &state.ToAccountNumber,
		&state.Amount, &state.Status, &state.CreatedAt, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrSagaNotFound
	}
	if err != nil {
		return nil, saga.Persistence("failed to lock saga", err)
	}
	if !saga.CanTransition(state.Status, models.SagaCompensated) {
		return nil, nil
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, creditAccountSQL, state.Amount, now, state.FromAccountID)
	if err != nil {
		return nil, saga.Persistence("failed to credit account", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, saga.Persistence("failed to check rows affected", err)
	} else if rows == 0 {
		return nil, saga.ErrAccountNotFound
	}

	if _, err := tx.ExecContext(ctx, compensateAccountTransactionSQL,
		sagaID, models.StatusCompensated, models.StatusCompleted,
	); err != nil {
		return nil, saga.Persistence("failed to compensate withdraw entry", err)
	}
	if _, err := tx.ExecContext(ctx, compensateSagaSQL, sagaID, models.SagaCompensated, now); err != nil {
		return nil, saga.Persistence("failed to mark saga compensated", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, saga.Persistence("failed to commit compensation", err)
	}

	state.Status = models.SagaCompensated
	state.UpdatedAt = now
	return &state, nil
}

// GetAccount returns the current balance view of an account.
func (r *AccountWriteRepository) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	query := `
		SELECT id, account_number, balance, created_at, updated_at
		FROM accounts
		WHERE account_number = $1
	`
	var account models.Account
	err := r.db.QueryRowContext(ctx, query, accountNumber).Scan(
		&account.ID, &account.AccountNumber, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, msg OutboxMessage, now time.Time) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	id := msg.ID
	if id == "" {
		id = utils.GenerateID("evt")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (id, topic, payload, status, created_at)
		VALUES ($1, $2, $3, 'PENDING', $4)
	`, id, msg.Topic, payload, now)
	return err
}
