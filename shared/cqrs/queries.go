package cqrs

import (
	"time"

	"github.com/eaglebank/transfer-saga/shared/models"
)

type GetSagaQuery struct {
	SagaID string
}

// ListSagasQuery selects sagas in Status last updated before now-OlderThan.
type ListSagasQuery struct {
	Status    models.SagaStatus
	OlderThan time.Duration
	Limit     int
}

type GetDepositQuery struct {
	SagaID string
}
