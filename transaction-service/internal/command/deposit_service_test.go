package command

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/eaglebank/transfer-saga/shared/cqrs"
	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/models"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/client"
	"github.com/shopspring/decimal"
)

func newService(store *memDeposits, pub *mockPublisher, notifier *mockNotifier) *DepositService {
	return NewDepositService(store, pub, notifier, 50*time.Millisecond)
}

func depositCmd(sagaID string) cqrs.DepositCommand {
	return cqrs.DepositCommand{SagaID: sagaID, AccountNumber: "01000002", Amount: decimal.NewFromInt(100000), FromAccountNumber: "01000001"}
}

func withdrawEvent(sagaID string) events.WithdrawSucceededEvent {
	return events.WithdrawSucceededEvent{SagaID: sagaID, FromAccount: "01000001", ToAccount: "01000002", Amount: decimal.NewFromInt(100000)}
}

func TestProcessDepositIsIdempotent(t *testing.T) {
	store := newMemDeposits()
	notifier := &mockNotifier{}
	svc := newService(store, &mockPublisher{}, notifier)

	first, err := svc.ProcessDeposit(context.Background(), depositCmd("s1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.ProcessDeposit(context.Background(), depositCmd("s1"))
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if first.DepositID != second.DepositID || second.Status != models.StatusCompleted {
		t.Errorf("expected same deposit, got %+v and %+v", first, second)
	}
	if store.depositCount() != 1 {
		t.Errorf("expected one deposit got %d", store.depositCount())
	}
	if notifier.calls != 1 {
		t.Errorf("expected one notification got %d", notifier.calls)
	}
}

func TestProcessDepositConcurrentReplaysRecordOnce(t *testing.T) {
	store := newMemDeposits()
	svc := newService(store, &mockPublisher{}, &mockNotifier{})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.ProcessDeposit(context.Background(), depositCmd("s1"))
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			ids[i] = res.DepositID
		}(i)
	}
	wg.Wait()
	if store.depositCount() != 1 {
		t.Errorf("expected one deposit got %d", store.depositCount())
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Errorf("expected identical deposit ids, got %v", ids)
			break
		}
	}
}

func TestProcessDepositRefusedAfterFence(t *testing.T) {
	store := newMemDeposits()
	svc := newService(store, &mockPublisher{}, &mockNotifier{})

	view, err := svc.Fence(context.Background(), "s1")
	if err != nil || view.Status != models.StatusFailed {
		t.Fatalf("fence: %+v err=%v", view, err)
	}
	_, err = svc.ProcessDeposit(context.Background(), depositCmd("s1"))
	if !errors.Is(err, ErrDepositFenced) {
		t.Fatalf("expected ErrDepositFenced got %v", err)
	}
	if store.depositCount() != 0 {
		t.Error("fenced saga must not be deposited")
	}
}

func TestFenceReportsCommittedDeposit(t *testing.T) {
	store := newMemDeposits()
	svc := newService(store, &mockPublisher{}, &mockNotifier{})

	dep, _ := svc.ProcessDeposit(context.Background(), depositCmd("s1"))
	view, err := svc.Fence(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != models.StatusCompleted || view.DepositID != dep.DepositID {
		t.Errorf("expected the committed deposit to stand, got %+v", view)
	}
}

func TestProcessDepositNotificationFailureDoesNotFailDeposit(t *testing.T) {
	tests := []struct {
		name       string
		notifyErr  error
		wantTopics []string
	}{
		{"notifier rejected", fmt.Errorf("%w: status 502", client.ErrNotificationRejected), []string{}},
		{"notifier unreachable", errors.New("connection refused"), []string{events.NotificationFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			svc := newService(newMemDeposits(), pub, &mockNotifier{err: tt.notifyErr})

			res, err := svc.ProcessDeposit(context.Background(), depositCmd("s1"))
			if err != nil || res.Status != models.StatusCompleted {
				t.Fatalf("[%s] expected COMPLETED, got %+v err=%v", tt.name, res, err)
			}
			if got := pub.topics(); !reflect.DeepEqual(got, tt.wantTopics) {
				t.Errorf("[%s] expected topics %v got %v", tt.name, tt.wantTopics, got)
			}
		})
	}
}

func TestProcessDepositPersistenceError(t *testing.T) {
	store := newMemDeposits()
	store.recordErr = saga.Persistence("failed to create deposit", errors.New("disk full"))

	_, err := newService(store, &mockPublisher{}, &mockNotifier{}).ProcessDeposit(context.Background(), depositCmd("s1"))
	if !errors.Is(err, saga.ErrPersistence) {
		t.Errorf("expected persistence error got %v", err)
	}
}

func TestHandleWithdrawSucceededDepositsAndPublishes(t *testing.T) {
	store := newMemDeposits()
	pub := &mockPublisher{}
	notifier := &mockNotifier{}
	svc := newService(store, pub, notifier)

	if err := svc.HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.sent) != 1 || pub.sent[0].topic != events.DepositSucceeded {
		t.Fatalf("expected deposit.success got %v", pub.topics())
	}
	ev := pub.sent[0].data.(events.DepositSucceededEvent)
	if ev.SagaID != "s1" || ev.ToAccount != "01000002" || !ev.Amount.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("unexpected event %+v", ev)
	}
	if notifier.calls != 1 {
		t.Errorf("expected one notification got %d", notifier.calls)
	}
}

func TestHandleWithdrawSucceededRedeliveryReemitsOutcome(t *testing.T) {
	store := newMemDeposits()
	pub := &mockPublisher{}
	svc := newService(store, pub, &mockNotifier{})

	for i := 0; i < 3; i++ {
		if err := svc.HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1")); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if store.depositCount() != 1 {
		t.Errorf("expected one deposit got %d", store.depositCount())
	}
	want := []string{events.DepositSucceeded, events.DepositSucceeded, events.DepositSucceeded}
	if got := pub.topics(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v got %v", want, got)
	}
}

func TestHandleWithdrawSucceededFailureIsStable(t *testing.T) {
	store := newMemDeposits()
	store.recordErr = saga.Persistence("failed to create deposit", errors.New("disk full"))
	pub := &mockPublisher{}
	svc := newService(store, pub, &mockNotifier{})

	if err := svc.HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// storage recovers, but the saga already failed
	store.recordErr = nil
	if err := svc.HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{events.DepositFailed, events.DepositFailed}
	if got := pub.topics(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	if ev := pub.sent[0].data.(events.DepositFailedEvent); ev.Reason != reasonNotRecorded || ev.SagaID != "s1" {
		t.Errorf("unexpected failure event %+v", ev)
	}
	if store.depositCount() != 0 {
		t.Error("a failed saga must never be deposited later")
	}
}

func TestHandleWithdrawSucceededUnrecordableFailureIsRedelivered(t *testing.T) {
	store := newMemDeposits()
	store.recordErr = saga.Persistence("failed to begin deposit", errors.New("db down"))
	store.failErr = saga.Persistence("failed to record deposit failure", errors.New("db down"))
	pub := &mockPublisher{}

	err := newService(store, pub, &mockNotifier{}).HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1"))
	if err == nil {
		t.Fatal("expected error so the event is redelivered")
	}
	if len(pub.sent) != 0 {
		t.Errorf("expected no outcome published got %v", pub.topics())
	}
}

func TestHandleWithdrawSucceededInvalidPayload(t *testing.T) {
	pub := &mockPublisher{}
	ev := withdrawEvent("s1")
	ev.Amount = decimal.Zero

	if err := newService(newMemDeposits(), pub, &mockNotifier{}).HandleWithdrawSucceeded(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if got := pub.topics(); !reflect.DeepEqual(got, []string{events.DepositFailed}) {
		t.Errorf("expected deposit.failed got %v", got)
	}
}

func TestHandleWithdrawSucceededAfterFence(t *testing.T) {
	store := newMemDeposits()
	pub := &mockPublisher{}
	svc := newService(store, pub, &mockNotifier{})

	_, _ = svc.Fence(context.Background(), "s1")
	if err := svc.HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1")); err != nil {
		t.Fatal(err)
	}
	if got := pub.topics(); !reflect.DeepEqual(got, []string{events.DepositFailed}) {
		t.Errorf("expected deposit.failed got %v", got)
	}
	if store.depositCount() != 0 {
		t.Error("fenced saga must not be deposited")
	}
}

func TestHandleWithdrawSucceededPublishErrorIsRedelivered(t *testing.T) {
	store := newMemDeposits()
	pub := &mockPublisher{err: errors.New("broker down")}
	notifier := &mockNotifier{}
	svc := newService(store, pub, notifier)

	if err := svc.HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1")); err == nil {
		t.Fatal("expected error")
	}
	pub.err = nil
	if err := svc.HandleWithdrawSucceeded(context.Background(), withdrawEvent("s1")); err != nil {
		t.Fatal(err)
	}
	if store.depositCount() != 1 || !reflect.DeepEqual(pub.topics(), []string{events.DepositSucceeded}) {
		t.Errorf("expected a single deposit announced once, got %d / %v", store.depositCount(), pub.topics())
	}
	if notifier.calls != 1 {
		t.Errorf("expected the deposit notified exactly once across redelivery, got %d", notifier.calls)
	}
}

func TestHandleWithdrawSucceededRejectsSubCentAmount(t *testing.T) {
	store := newMemDeposits()
	pub := &mockPublisher{}
	ev := withdrawEvent("s1")
	ev.Amount = decimal.RequireFromString("0.005")

	if err := newService(store, pub, &mockNotifier{}).HandleWithdrawSucceeded(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if got := pub.topics(); !reflect.DeepEqual(got, []string{events.DepositFailed}) {
		t.Errorf("expected deposit.failed got %v", got)
	}
	if store.depositCount() != 0 {
		t.Error("a sub-cent amount must not be deposited")
	}
	if ev := pub.sent[0].data.(events.DepositFailedEvent); ev.Reason != reasonInvalid {
		t.Errorf("unexpected reason %q", ev.Reason)
	}
}

func TestHandleEventRouting(t *testing.T) {
	store := newMemDeposits()
	pub := &mockPublisher{}
	svc := newService(store, pub, &mockNotifier{})

	cases := []events.Event{
		{ID: "1", Type: events.WithdrawSucceeded, Data: withdrawEvent("s1")},
		{ID: "2", Type: events.NotificationFailed, Data: events.NotificationFailedEvent{SagaID: "s1", Reason: "smtp"}},
		{ID: "3", Type: events.WithdrawSucceeded, Data: "garbage"},
		{ID: "4", Type: "unknown.topic"},
	}
	for _, ev := range cases {
		if err := svc.HandleEvent(context.Background(), ev); err != nil {
			t.Errorf("%s: unexpected error %v", ev.Type, err)
		}
	}
	if store.depositCount() != 1 {
		t.Errorf("expected one deposit got %d", store.depositCount())
	}
}

func TestGetDeposit(t *testing.T) {
	store := newMemDeposits()
	svc := newService(store, &mockPublisher{}, &mockNotifier{})

	view, _ := svc.GetDeposit(context.Background(), cqrs.GetDepositQuery{SagaID: "s1"})
	if view.Status != models.DepositNotFound {
		t.Errorf("expected NOT_FOUND got %s", view.Status)
	}
	_, _ = svc.ProcessDeposit(context.Background(), depositCmd("s1"))
	view, _ = svc.GetDeposit(context.Background(), cqrs.GetDepositQuery{SagaID: "s1"})
	if view.Status != models.StatusCompleted || view.DepositID == "" {
		t.Errorf("unexpected view %+v", view)
	}
}
