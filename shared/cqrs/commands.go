package cqrs

import "github.com/shopspring/decimal"

type TransferCommand struct {
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
}

type CompensateSagaCommand struct {
	SagaID string
}

type DepositCommand struct {
	SagaID            string
	AccountNumber     string
	Amount            decimal.Decimal
	FromAccountNumber string
}

type NotifyCommand struct {
	SagaID           string
	UserID           string
	NotificationType string
	Message          string
}
