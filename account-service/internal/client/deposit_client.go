package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
)

// DepositClient calls the transaction service's internal deposit API.
// Callers bound each call with a context deadline.
type DepositClient struct {
	baseURL string
	http    *http.Client
}

func NewDepositClient(baseURL string) *DepositClient {
	return &DepositClient{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Deposit asks the deposit participant to credit the destination account.
// A non-2xx answer is returned as saga.ErrDepositRejected.
func (c *DepositClient) Deposit(ctx context.Context, req models.DepositRequest) (*models.DepositResponse, error) {
	var resp models.DepositResponse
	if err := c.do(ctx, http.MethodPost, "/internal/deposit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports the deposit outcome recorded for a saga.
func (c *DepositClient) Status(ctx context.Context, sagaID string) (*models.DepositStatusView, error) {
	var view models.DepositStatusView
	if err := c.do(ctx, http.MethodGet, "/internal/deposits/"+url.PathEscape(sagaID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Fence settles the deposit outcome for a saga. If no deposit was recorded
// it records a failure, so a late deposit attempt for the saga is refused.
func (c *DepositClient) Fence(ctx context.Context, sagaID string) (*models.DepositStatusView, error) {
	var view models.DepositStatusView
	if err := c.do(ctx, http.MethodPost, "/internal/deposits/"+url.PathEscape(sagaID)+"/fence", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *DepositClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deposit service unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read deposit service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &e)
		return fmt.Errorf("%w: status %d: %s", saga.ErrDepositRejected, resp.StatusCode, e.Message)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode deposit service response: %w", err)
	}
	return nil
}
