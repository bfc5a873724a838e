package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/shopspring/decimal"
)

func TestDeposit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/deposit" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req models.DepositRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req.SagaID != "saga-1" || !req.Amount.Equal(decimal.NewFromInt(100000)) {
			t.Errorf("unexpected request body %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"depositId":"dep-1","status":"COMPLETED"}`))
	}))
	defer srv.Close()

	c := NewDepositClient(srv.URL)
	resp, err := c.Deposit(context.Background(), models.DepositRequest{
		SagaID:            "saga-1",
		AccountNumber:     "01000002",
		Amount:            decimal.NewFromInt(100000),
		FromAccountNumber: "01000001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.DepositID != "dep-1" || resp.Status != "COMPLETED" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestDepositRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"deposit already failed for saga"}`))
	}))
	defer srv.Close()

	_, err := NewDepositClient(srv.URL).Deposit(context.Background(), models.DepositRequest{SagaID: "saga-1"})
	if !errors.Is(err, saga.ErrDepositRejected) {
		t.Fatalf("expected ErrDepositRejected, got %v", err)
	}
}

func TestDepositTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewDepositClient(srv.URL).Deposit(ctx, models.DepositRequest{SagaID: "saga-1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFenceAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/internal/deposits/saga-1/fence":
			_, _ = w.Write([]byte(`{"sagaId":"saga-1","status":"FAILED","reason":"fenced"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/internal/deposits/saga-1":
			_, _ = w.Write([]byte(`{"sagaId":"saga-1","status":"NOT_FOUND"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewDepositClient(srv.URL)
	view, err := c.Status(context.Background(), "saga-1")
	if err != nil || view.Status != models.DepositNotFound {
		t.Errorf("unexpected status %+v err=%v", view, err)
	}
	view, err = c.Fence(context.Background(), "saga-1")
	if err != nil || view.Status != models.StatusFailed {
		t.Errorf("unexpected fence %+v err=%v", view, err)
	}
}
