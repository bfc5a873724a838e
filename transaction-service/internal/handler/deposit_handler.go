package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/command"
	"github.com/gin-gonic/gin"
)

// Depositor defines the deposit participant operations used by DepositHandler.
type Depositor interface {
	ProcessDeposit(ctx context.Context, cmd cqrs.DepositCommand) (*models.DepositResponse, error)
	GetDeposit(ctx context.Context, q cqrs.GetDepositQuery) (*models.DepositStatusView, error)
	Fence(ctx context.Context, sagaID string) (*models.DepositStatusView, error)
}

// DepositHandler serves the internal deposit API. It is reachable only on
// the internal network; the gateway never routes /internal/*.
type DepositHandler struct {
	deposits Depositor
}

func NewDepositHandler(deposits Depositor) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

func (h *DepositHandler) ProcessDeposit(c *gin.Context) {
	var req models.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	resp, err := h.deposits.ProcessDeposit(c.Request.Context(), cqrs.DepositCommand{
		SagaID:            req.SagaID,
		AccountNumber:     req.AccountNumber,
		Amount:            req.Amount,
		FromAccountNumber: req.FromAccountNumber,
	})
	if err != nil {
		if errors.Is(err, command.ErrDepositFenced) {
			middleware.RespondWithError(c, http.StatusConflict, "Saga already failed, deposit refused")
			return
		}
		if errors.Is(err, saga.ErrInvalidAmount) {
			middleware.RespondWithError(c, http.StatusBadRequest, "Invalid deposit amount")
			return
		}
		logger.Error("deposit failed", err, logger.Fields{"sagaId": req.SagaID})
		middleware.RespondWithError(c, http.StatusInternalServerError, "Deposit failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *DepositHandler) GetDeposit(c *gin.Context) {
	view, err := h.deposits.GetDeposit(c.Request.Context(), cqrs.GetDepositQuery{SagaID: c.Param("sagaId")})
	if err != nil {
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to get deposit")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *DepositHandler) Fence(c *gin.Context) {
	view, err := h.deposits.Fence(c.Request.Context(), c.Param("sagaId"))
	if err != nil {
		logger.Error("fence failed", err, logger.Fields{"sagaId": c.Param("sagaId")})
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to fence deposit")
		return
	}
	c.JSON(http.StatusOK, view)
}
