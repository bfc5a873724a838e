package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SagaStatus string

const (
	SagaStarted                          SagaStatus = "STARTED"
	SagaCompleted                        SagaStatus = "COMPLETED"
	SagaFailed                           SagaStatus = "FAILED"
	SagaCompensated                      SagaStatus = "COMPENSATED"
	SagaCompletedWithNotificationFailure SagaStatus = "COMPLETED_WITH_NOTIFICATION_FAILURE"
)

type PatternType string

const (
	PatternOrchestration PatternType = "ORCHESTRATION"
	PatternChoreography  PatternType = "CHOREOGRAPHY"
)

// Ledger row statuses.
const (
	StatusCompleted   = "COMPLETED"
	StatusCompensated = "COMPENSATED"
	StatusFailed      = "FAILED"

	TypeWithdraw = "WITHDRAW"
)

type Account struct {
	ID            int64           `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"createdTimestamp"`
	UpdatedAt     time.Time       `json:"updatedTimestamp"`
}

// AccountTransaction is the withdraw-side ledger entry for one saga.
type AccountTransaction struct {
	ID        string          `json:"id"`
	AccountID int64           `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	SagaID    string          `json:"sagaId"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdTimestamp"`
}

type SagaState struct {
	SagaID          string          `json:"sagaId"`
	PatternType     PatternType     `json:"patternType"`
	FromAccountID   int64           `json:"fromAccountId"`
	ToAccountNumber string          `json:"toAccountNumber"`
	Amount          decimal.Decimal `json:"amount"`
	Status          SagaStatus      `json:"status"`
	CreatedAt       time.Time       `json:"createdTimestamp"`
	UpdatedAt       time.Time       `json:"updatedTimestamp"`
}

// Transaction is the deposit-side ledger entry, at most one per saga.
type Transaction struct {
	ID                string          `json:"id"`
	SagaID            string          `json:"sagaId"`
	FromAccountNumber string          `json:"fromAccountNumber"`
	ToAccountNumber   string          `json:"toAccountNumber"`
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"createdTimestamp"`
}

type Deposit struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	SagaID        string          `json:"sagaId"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdTimestamp"`
}
