package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eaglebank/transfer-saga/shared/models"
)

// ErrNotificationRejected means the notifier answered but could not deliver.
// The notifier publishes notification.failed itself in that case.
var ErrNotificationRejected = errors.New("notification rejected")

type NotificationClient struct {
	baseURL string
	http    *http.Client
}

func NewNotificationClient(baseURL string, timeout time.Duration) *NotificationClient {
	return &NotificationClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *NotificationClient) Notify(ctx context.Context, req models.NotificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/notification", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("notification service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrNotificationRejected, resp.StatusCode)
	}
	return nil
}
