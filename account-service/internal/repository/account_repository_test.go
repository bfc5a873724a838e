package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/shopspring/decimal"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

var sagaRowColumns = []string{
	"saga_id", "pattern_type", "from_account_id", "to_account_number", "amount", "status", "created_at", "updated_at",
}

func sagaRow(sagaID string, status models.SagaStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(sagaRowColumns).
		AddRow(sagaID, string(models.PatternChoreography), int64(7), "01000002", "100.00", string(status), now, now)
}

func withdrawInput(amount string) WithdrawInput {
	return WithdrawInput{
		SagaID:      "s1",
		Pattern:     models.PatternOrchestration,
		FromAccount: "01000001",
		ToAccount:   "01000002",
		Amount:      decimal.RequireFromString(amount),
	}
}

func expectLockedAccount(mock sqlmock.Sqlmock, balance string) {
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM accounts WHERE account_number = $1 FOR UPDATE")).
		WithArgs("01000001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_number", "balance"}).AddRow(int64(7), "01000001", balance))
}

// ---- Withdraw ----

func TestWithdrawCommitsDebitSagaAndEntry(t *testing.T) {
	db, mock := newMockDB(t)
	expectLockedAccount(mock, "100.00")
	mock.ExpectExec(q("UPDATE accounts SET balance = balance - $1")).
		WithArgs("25.5", sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO saga_states")).
		WithArgs("s1", string(models.PatternOrchestration), int64(7), "01000002", "25.5", string(models.SagaStarted), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO account_transactions")).
		WithArgs(sqlmock.AnyArg(), int64(7), "25.5", models.TypeWithdraw, "s1", models.StatusCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state, err := NewAccountWriteRepository(db).Withdraw(context.Background(), withdrawInput("25.50"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != models.SagaStarted || state.FromAccountID != 7 {
		t.Errorf("unexpected saga %+v", state)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWithdrawRollsBackWhenAnyWriteFails(t *testing.T) {
	tests := []struct {
		name  string
		event bool
		fail  string
	}{
		{"debit", false, "UPDATE accounts"},
		{"saga row", false, "INSERT INTO saga_states"},
		{"ledger entry", false, "INSERT INTO account_transactions"},
		{"outbox row", true, "INSERT INTO outbox"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			expectLockedAccount(mock, "100.00")
			for _, stmt := range []string{"UPDATE accounts", "INSERT INTO saga_states", "INSERT INTO account_transactions", "INSERT INTO outbox"} {
				if stmt == "INSERT INTO outbox" && !tt.event {
					break
				}
				exec := mock.ExpectExec(q(stmt))
				if stmt == tt.fail {
					exec.WillReturnError(errors.New("write failed"))
					break
				}
				exec.WillReturnResult(sqlmock.NewResult(0, 1))
			}
			mock.ExpectRollback()

			in := withdrawInput("10")
			if tt.event {
				in.Event = &OutboxMessage{Topic: "account.withdraw.success", Payload: map[string]string{"sagaId": "s1"}}
			}
			_, err := NewAccountWriteRepository(db).Withdraw(context.Background(), in)
			if !errors.Is(err, saga.ErrPersistence) {
				t.Fatalf("expected persistence error got %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestWithdrawRejectsWithoutWriting(t *testing.T) {
	t.Run("insufficient funds", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectLockedAccount(mock, "50.00")
		mock.ExpectRollback()

		_, err := NewAccountWriteRepository(db).Withdraw(context.Background(), withdrawInput("50.01"))
		if !errors.Is(err, saga.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM accounts")).WillReturnRows(sqlmock.NewRows([]string{"id", "account_number", "balance"}))
		mock.ExpectRollback()

		_, err := NewAccountWriteRepository(db).Withdraw(context.Background(), withdrawInput("1"))
		if !errors.Is(err, saga.ErrAccountNotFound) {
			t.Fatalf("expected ErrAccountNotFound got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	for _, amount := range []string{"0.005", "10.001", "0", "-1"} {
		t.Run("amount "+amount, func(t *testing.T) {
			db, mock := newMockDB(t)

			_, err := NewAccountWriteRepository(db).Withdraw(context.Background(), withdrawInput(amount))
			if !errors.Is(err, saga.ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount got %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

// ---- Compensate ----

func TestCompensateCreditsStartedSaga(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM saga_states WHERE saga_id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sagaRow("s1", models.SagaStarted))
	mock.ExpectExec(q("UPDATE accounts SET balance = balance + $1")).
		WithArgs("100", sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE account_transactions SET status = $2")).
		WithArgs("s1", models.StatusCompensated, models.StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE saga_states SET status = $2")).
		WithArgs("s1", string(models.SagaCompensated), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state, err := NewAccountWriteRepository(db).Compensate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil || state.Status != models.SagaCompensated {
		t.Fatalf("expected COMPENSATED got %+v", state)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCompensateIsNoOpOutsideStarted(t *testing.T) {
	for _, status := range []models.SagaStatus{
		models.SagaCompensated,
		models.SagaCompleted,
		models.SagaCompletedWithNotificationFailure,
	} {
		t.Run(string(status), func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectBegin()
			mock.ExpectQuery(q("FOR UPDATE")).WithArgs("s1").WillReturnRows(sagaRow("s1", status))
			mock.ExpectRollback()

			state, err := NewAccountWriteRepository(db).Compensate(context.Background(), "s1")
			if err != nil || state != nil {
				t.Fatalf("expected nil, nil got %+v, %v", state, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("expected no credit: %v", err)
			}
		})
	}
}

func TestCompensateMissingAccountRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs("s1").WillReturnRows(sagaRow("s1", models.SagaStarted))
	mock.ExpectExec(q("UPDATE accounts")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := NewAccountWriteRepository(db).Compensate(context.Background(), "s1")
	if !errors.Is(err, saga.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCompensateUnknownSaga(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs("nope").WillReturnRows(sqlmock.NewRows(sagaRowColumns))
	mock.ExpectRollback()

	_, err := NewAccountWriteRepository(db).Compensate(context.Background(), "nope")
	if !errors.Is(err, saga.ErrSagaNotFound) {
		t.Fatalf("expected ErrSagaNotFound got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCompensateEntryUpdateFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs("s1").WillReturnRows(sagaRow("s1", models.SagaStarted))
	mock.ExpectExec(q("UPDATE accounts")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE account_transactions")).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := NewAccountWriteRepository(db).Compensate(context.Background(), "s1")
	if !errors.Is(err, saga.ErrPersistence) {
		t.Fatalf("expected persistence error got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
