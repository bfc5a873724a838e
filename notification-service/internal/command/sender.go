package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/logger"
)

// Sender delivers one notification to the customer.
type Sender interface {
	Send(ctx context.Context, cmd cqrs.NotifyCommand) error
}

// LogSender only logs notifications. It is used when no webhook is set.
type LogSender struct{}

func (LogSender) Send(_ context.Context, cmd cqrs.NotifyCommand) error {
	logger.Info("notification sent", logger.Fields{
		"sagaId":           cmd.SagaID,
		"userId":           cmd.UserID,
		"notificationType": cmd.NotificationType,
		"message":          cmd.Message,
	})
	return nil
}

// WebhookSender posts notifications as JSON to an external endpoint.
type WebhookSender struct {
	url  string
	http *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{url: url, http: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Send(ctx context.Context, cmd cqrs.NotifyCommand) error {
	body, err := json.Marshal(map[string]string{
		"sagaId":           cmd.SagaID,
		"userId":           cmd.UserID,
		"notificationType": cmd.NotificationType,
		"message":          cmd.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}
