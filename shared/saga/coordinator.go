package saga

import (
	"context"
	"errors"

	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/models"
)

// Store persists saga records. Transition must be a conditional write: it
// applies only when the current status is one of from, and returns the
// updated record, or nil when the guard did not match.
type Store interface {
	Get(ctx context.Context, sagaID string) (*models.SagaState, error)
	Transition(ctx context.Context, sagaID string, to models.SagaStatus, from []models.SagaStatus) (*models.SagaState, error)
}

// Compensator reverses a committed withdraw. In one local transaction it
// credits the amount back, marks the withdraw entry COMPENSATED and moves the
// saga to COMPENSATED, but only while the saga is STARTED. It returns nil
// when the saga was not STARTED.
type Compensator interface {
	Compensate(ctx context.Context, sagaID string) (*models.SagaState, error)
}

// Result describes the saga after a transition attempt.
type Result struct {
	Saga    *models.SagaState
	Applied bool
}

// Coordinator is the single entry point for saga state transitions. Ledger
// mutation happens behind Compensator; the coordinator only decides.
type Coordinator struct {
	store       Store
	compensator Compensator
}

func NewCoordinator(store Store, compensator Compensator) *Coordinator {
	return &Coordinator{store: store, compensator: compensator}
}

func (c *Coordinator) Get(ctx context.Context, sagaID string) (*models.SagaState, error) {
	return c.store.Get(ctx, sagaID)
}

// Complete moves a STARTED saga to COMPLETED.
func (c *Coordinator) Complete(ctx context.Context, sagaID string) (Result, error) {
	return c.transition(ctx, sagaID, models.SagaCompleted)
}

// MarkNotificationFailed records that the best-effort notification failed.
// It never compensates.
func (c *Coordinator) MarkNotificationFailed(ctx context.Context, sagaID string) (Result, error) {
	return c.transition(ctx, sagaID, models.SagaCompletedWithNotificationFailure)
}

// Compensate reverses the withdraw of a STARTED saga. Repeated calls credit
// the account once. On error the saga stays STARTED and may be retried.
func (c *Coordinator) Compensate(ctx context.Context, sagaID string) (Result, error) {
	updated, err := c.compensator.Compensate(ctx, sagaID)
	if err != nil {
		if !errors.Is(err, ErrSagaNotFound) && !errors.Is(err, ErrAccountNotFound) {
			metrics.Compensations.WithLabelValues("failed").Inc()
		}
		return Result{}, err
	}
	if updated != nil {
		metrics.Compensations.WithLabelValues("applied").Inc()
		metrics.SagaTransitions.WithLabelValues(string(updated.PatternType), string(updated.Status)).Inc()
		logger.Info("saga compensated", logger.Fields{"sagaId": sagaID, "amount": updated.Amount.String()})
		return Result{Saga: updated, Applied: true}, nil
	}

	metrics.Compensations.WithLabelValues("skipped").Inc()
	current, err := c.store.Get(ctx, sagaID)
	if err != nil {
		return Result{}, err
	}
	logger.Info("compensation skipped", logger.Fields{"sagaId": sagaID, "status": current.Status})
	return Result{Saga: current}, nil
}

func (c *Coordinator) transition(ctx context.Context, sagaID string, to models.SagaStatus) (Result, error) {
	updated, err := c.store.Transition(ctx, sagaID, to, AllowedFrom(to))
	if err != nil {
		return Result{}, err
	}
	if updated != nil {
		metrics.SagaTransitions.WithLabelValues(string(updated.PatternType), string(to)).Inc()
		logger.Info("saga transitioned", logger.Fields{"sagaId": sagaID, "status": to})
		return Result{Saga: updated, Applied: true}, nil
	}

	current, err := c.store.Get(ctx, sagaID)
	if err != nil {
		return Result{}, err
	}
	logger.Info("saga transition ignored", logger.Fields{
		"sagaId": sagaID,
		"status": current.Status,
		"target": to,
	})
	return Result{Saga: current}, nil
}
