package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
)

// SagaLister finds sagas by status and age.
type SagaLister interface {
	ListByStatus(ctx context.Context, status models.SagaStatus, cutoff time.Time, limit int) ([]models.SagaState, error)
}

// DepositOutcomes reads the deposit outcome recorded for a saga, and fences
// the deposit side when nothing has been recorded yet.
type DepositOutcomes interface {
	Status(ctx context.Context, sagaID string) (*models.DepositStatusView, error)
	Fence(ctx context.Context, sagaID string) (*models.DepositStatusView, error)
}

type ReconcilerConfig struct {
	Interval     time.Duration
	After        time.Duration
	BatchSize    int
	FenceTimeout time.Duration
}

// Reconciler settles sagas left STARTED by a lost event, a crashed
// coordinator or a failed compensation. For each one it reads the deposit
// outcome, fencing the deposit when none is recorded, and then completes or
// compensates the saga to match.
type Reconciler struct {
	sagas       SagaLister
	deposits    DepositOutcomes
	coordinator *saga.Coordinator
	cfg         ReconcilerConfig
}

func NewReconciler(sagas SagaLister, deposits DepositOutcomes, coordinator *saga.Coordinator, cfg ReconcilerConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = 5 * time.Second
	}
	return &Reconciler{sagas: sagas, deposits: deposits, coordinator: coordinator, cfg: cfg}
}

func (r *Reconciler) Run(ctx context.Context) {
	logger.Info("reconciler started", logger.Fields{"interval": r.cfg.Interval.String(), "after": r.cfg.After.String()})
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciler stopped", nil)
			return
		case <-ticker.C:
			if _, err := r.Scan(ctx); err != nil {
				logger.Error("reconcile scan failed", err, nil)
			}
		}
	}
}

// Scan reconciles STARTED sagas older than the threshold and returns how
// many reached a final status.
func (r *Reconciler) Scan(ctx context.Context) (int, error) {
	stuck, err := r.sagas.ListByStatus(ctx, models.SagaStarted, time.Now().UTC().Add(-r.cfg.After), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	metrics.StuckSagas.Set(float64(len(stuck)))
	if len(stuck) == 0 {
		return 0, nil
	}
	logger.Warn("reconciling stuck sagas", logger.Fields{"count": len(stuck)})

	settled := 0
	for _, s := range stuck {
		res, err := r.Reconcile(ctx, s.SagaID)
		if err != nil {
			logger.Error("failed to reconcile saga", err, logger.Fields{"sagaId": s.SagaID, "pattern": s.PatternType})
			continue
		}
		if saga.IsFinal(res.Status) || saga.IsSettled(res.Status) {
			settled++
		}
	}
	return settled, nil
}

// Reconcile drives one saga to the outcome the deposit side recorded.
func (r *Reconciler) Reconcile(ctx context.Context, sagaID string) (models.TransferResult, error) {
	current, err := r.coordinator.Get(ctx, sagaID)
	if err != nil {
		return models.TransferResult{}, err
	}
	if current.Status != models.SagaStarted {
		return result(current.Status, sagaID, "saga already "+string(current.Status)), nil
	}

	view, err := r.depositOutcome(ctx, sagaID)
	if err != nil {
		return models.TransferResult{}, err
	}

	fields := logger.Fields{"sagaId": sagaID, "deposit": view.Status}
	if view.Status == models.StatusCompleted {
		res, err := r.coordinator.Complete(ctx, sagaID)
		if err != nil {
			return models.TransferResult{}, err
		}
		if !res.Applied {
			return result(res.Saga.Status, sagaID, "saga already "+string(res.Saga.Status)), nil
		}
		logger.Info("reconciled saga as completed", fields)
		return result(res.Saga.Status, sagaID, "deposit found, saga completed"), nil
	}

	res, err := r.coordinator.Compensate(ctx, sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			return models.TransferResult{}, err
		}
		return result(models.SagaStarted, sagaID, "compensation pending"), err
	}
	if !res.Applied {
		return result(res.Saga.Status, sagaID, "saga already "+string(res.Saga.Status)), nil
	}
	logger.Info("reconciled saga as compensated", fields)
	return result(res.Saga.Status, sagaID, "deposit not applied, withdraw compensated"), nil
}

// depositOutcome returns a recorded outcome as is. Only a saga with no
// recorded outcome, or whose status could not be read, is fenced.
func (r *Reconciler) depositOutcome(ctx context.Context, sagaID string) (*models.DepositStatusView, error) {
	statusCtx, cancel := context.WithTimeout(ctx, r.cfg.FenceTimeout)
	view, err := r.deposits.Status(statusCtx, sagaID)
	cancel()
	switch {
	case err != nil:
		logger.Warn("deposit status unavailable, fencing", logger.Fields{"sagaId": sagaID, "error": err.Error()})
	case view.Status == models.StatusCompleted || view.Status == models.StatusFailed:
		return view, nil
	}

	fenceCtx, cancel := context.WithTimeout(ctx, r.cfg.FenceTimeout)
	defer cancel()
	view, err = r.deposits.Fence(fenceCtx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("failed to fence deposit for saga %s: %w", sagaID, err)
	}
	return view, nil
}

func result(status models.SagaStatus, sagaID, message string) models.TransferResult {
	return models.TransferResult{SagaID: sagaID, Status: status, Message: message}
}
