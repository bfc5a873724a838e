package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Orchestrator runs a transfer with a synchronous deposit call.
type Orchestrator interface {
	ExecuteTransfer(ctx context.Context, cmd cqrs.TransferCommand) (models.TransferResult, error)
}

// Choreographer starts a transfer whose deposit is driven by events.
type Choreographer interface {
	InitiateTransfer(ctx context.Context, cmd cqrs.TransferCommand) (models.TransferResult, error)
}

// TransferHandler exposes both saga protocols. The caller picks one by path.
type TransferHandler struct {
	orchestration Orchestrator
	choreography  Choreographer
}

type TransferRequest struct {
	FromAccount string          `json:"fromAccount" validate:"required,max=32"`
	ToAccount   string          `json:"toAccount" validate:"required,max=32,nefield=FromAccount"`
	Amount      decimal.Decimal `json:"amount" validate:"required,gt=0,money"`
}

func NewTransferHandler(orchestration Orchestrator, choreography Choreographer) *TransferHandler {
	return &TransferHandler{orchestration: orchestration, choreography: choreography}
}

func (h *TransferHandler) Orchestration(c *gin.Context) {
	cmd, ok := bindTransfer(c)
	if !ok {
		return
	}
	res, err := h.orchestration.ExecuteTransfer(c.Request.Context(), cmd)
	c.JSON(transferStatus(res, err), res)
}

func (h *TransferHandler) Choreography(c *gin.Context) {
	cmd, ok := bindTransfer(c)
	if !ok {
		return
	}
	res, err := h.choreography.InitiateTransfer(c.Request.Context(), cmd)
	c.JSON(transferStatus(res, err), res)
}

func bindTransfer(c *gin.Context) (cqrs.TransferCommand, bool) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return cqrs.TransferCommand{}, false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return cqrs.TransferCommand{}, false
	}
	return cqrs.TransferCommand{
		FromAccount: req.FromAccount,
		ToAccount:   req.ToAccount,
		Amount:      req.Amount,
	}, true
}

// transferStatus picks the HTTP status for a transfer result. The body is
// always the TransferResult, so clients can read the saga id either way.
func transferStatus(res models.TransferResult, err error) int {
	switch res.Status {
	case models.SagaCompleted, models.SagaCompletedWithNotificationFailure:
		return http.StatusOK
	case models.SagaStarted:
		return http.StatusAccepted
	}

	switch {
	case errors.Is(err, saga.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, saga.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, saga.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, saga.ErrDepositRejected):
		return http.StatusBadGateway
	case errors.Is(err, saga.ErrPersistence):
		return http.StatusInternalServerError
	case err != nil:
		return http.StatusBadGateway
	}
	return http.StatusOK
}
