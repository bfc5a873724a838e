package models

import (
	"github.com/shopspring/decimal"
)

// Wire contracts exchanged between services over HTTP.

type TransferResult struct {
	SagaID  string     `json:"sagaId"`
	Status  SagaStatus `json:"status"`
	Message string     `json:"message"`
}

type DepositRequest struct {
	SagaID            string          `json:"sagaId" validate:"required"`
	AccountNumber     string          `json:"accountNumber" validate:"required"`
	Amount            decimal.Decimal `json:"amount" validate:"required,gt=0,money"`
	FromAccountNumber string          `json:"fromAccountNumber" validate:"required"`
}

type DepositResponse struct {
	DepositID string `json:"depositId"`
	Status    string `json:"status"`
}

// DepositStatusView answers reconciliation lookups by saga id.
// Status is COMPLETED, FAILED or NOT_FOUND.
type DepositStatusView struct {
	SagaID    string `json:"sagaId"`
	Status    string `json:"status"`
	DepositID string `json:"depositId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

const DepositNotFound = "NOT_FOUND"

const NotificationDepositSuccess = "DEPOSIT_SUCCESS"

type NotificationRequest struct {
	SagaID           string `json:"sagaId" validate:"required"`
	UserID           string `json:"userId" validate:"required"`
	NotificationType string `json:"notificationType" validate:"required"`
	Message          string `json:"message"`
}

type NotificationResponse struct {
	Status string `json:"status"`
}

type ListSagasResponse struct {
	Sagas []SagaState `json:"sagas"`
}
