package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/gin-gonic/gin"
)

// SagaQuerier defines the read-side operations used by SagaHandler.
type SagaQuerier interface {
	GetSaga(ctx context.Context, q cqrs.GetSagaQuery) (*models.SagaState, error)
	ListSagas(ctx context.Context, q cqrs.ListSagasQuery) ([]models.SagaState, error)
	GetAccount(ctx context.Context, accountNumber string) (*models.Account, error)
}

// SagaReconciler settles a single STARTED saga on operator request.
type SagaReconciler interface {
	Reconcile(ctx context.Context, sagaID string) (models.TransferResult, error)
}

type SagaHandler struct {
	queries    SagaQuerier
	reconciler SagaReconciler
}

func NewSagaHandler(queries SagaQuerier, reconciler SagaReconciler) *SagaHandler {
	return &SagaHandler{queries: queries, reconciler: reconciler}
}

func (h *SagaHandler) GetSaga(c *gin.Context) {
	s, err := h.queries.GetSaga(c.Request.Context(), cqrs.GetSagaQuery{SagaID: c.Param("sagaId")})
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Saga not found")
			return
		}
		logger.Error("failed to get saga", err, logger.Fields{"sagaId": c.Param("sagaId")})
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to get saga")
		return
	}
	c.JSON(http.StatusOK, s)
}

// ListSagas accepts ?status=STARTED&olderThan=5m&limit=50.
func (h *SagaHandler) ListSagas(c *gin.Context) {
	q := cqrs.ListSagasQuery{Status: models.SagaStatus(c.Query("status"))}

	if q.Status != "" && !validStatus(q.Status) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Unknown saga status")
		return
	}
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			middleware.RespondWithError(c, http.StatusBadRequest, "olderThan must be a duration such as 5m")
			return
		}
		q.OlderThan = d
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.RespondWithError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	sagas, err := h.queries.ListSagas(c.Request.Context(), q)
	if err != nil {
		logger.Error("failed to list sagas", err, nil)
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to list sagas")
		return
	}
	if sagas == nil {
		sagas = []models.SagaState{}
	}
	c.JSON(http.StatusOK, models.ListSagasResponse{Sagas: sagas})
}

func (h *SagaHandler) Reconcile(c *gin.Context) {
	sagaID := c.Param("sagaId")
	res, err := h.reconciler.Reconcile(c.Request.Context(), sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Saga not found")
			return
		}
		logger.Error("operator reconcile failed", err, logger.Fields{"sagaId": sagaID})
		if res.SagaID == "" {
			middleware.RespondWithError(c, http.StatusBadGateway, "Deposit outcome unavailable, retry later")
			return
		}
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *SagaHandler) GetAccount(c *gin.Context) {
	account, err := h.queries.GetAccount(c.Request.Context(), c.Param("accountNumber"))
	if err != nil {
		if errors.Is(err, saga.ErrAccountNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Account not found")
			return
		}
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to get account")
		return
	}
	c.JSON(http.StatusOK, account)
}

func validStatus(s models.SagaStatus) bool {
	switch s {
	case models.SagaStarted, models.SagaCompleted, models.SagaCompensated, models.SagaCompletedWithNotificationFailure:
		return true
	}
	return false
}
