package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Topics. Each topic is a Redis stream or a RabbitMQ routing key.
const (
	WithdrawSucceeded  = "account.withdraw.success"
	WithdrawFailed     = "account.withdraw.failed"
	DepositSucceeded   = "transaction.deposit.success"
	DepositFailed      = "transaction.deposit.failed"
	NotificationFailed = "notification.failed"
)

// Base event structure
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type WithdrawSucceededEvent struct {
	SagaID      string          `json:"sagaId"`
	FromAccount string          `json:"fromAccount"`
	ToAccount   string          `json:"toAccount"`
	Amount      decimal.Decimal `json:"amount"`
}

type WithdrawFailedEvent struct {
	SagaID      string `json:"sagaId"`
	FromAccount string `json:"fromAccount"`
	Reason      string `json:"reason"`
}

type DepositSucceededEvent struct {
	SagaID    string          `json:"sagaId"`
	ToAccount string          `json:"toAccount"`
	Amount    decimal.Decimal `json:"amount"`
}

type DepositFailedEvent struct {
	SagaID    string `json:"sagaId"`
	ToAccount string `json:"toAccount"`
	Reason    string `json:"reason"`
}

type NotificationFailedEvent struct {
	SagaID string `json:"sagaId"`
	Reason string `json:"reason"`
}

// Decode converts the generic Data of a received event into T.
func Decode[T any](event Event) (T, error) {
	var out T
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return out, fmt.Errorf("failed to marshal %s payload: %w", event.Type, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal %s payload: %w", event.Type, err)
	}
	return out, nil
}
