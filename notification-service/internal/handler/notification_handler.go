package handler

import (
	"context"
	"net/http"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/gin-gonic/gin"
)

type Notifier interface {
	Notify(ctx context.Context, cmd cqrs.NotifyCommand) error
}

type NotificationHandler struct {
	notifier Notifier
}

func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

// Notify answers 502 when delivery failed; the failure has already been
// published by then.
func (h *NotificationHandler) Notify(c *gin.Context) {
	var req models.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	err := h.notifier.Notify(c.Request.Context(), cqrs.NotifyCommand{
		SagaID:           req.SagaID,
		UserID:           req.UserID,
		NotificationType: req.NotificationType,
		Message:          req.Message,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, models.NotificationResponse{Status: "FAILED"})
		return
	}
	c.JSON(http.StatusOK, models.NotificationResponse{Status: "SENT"})
}
