package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/billing"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage/memory"
)

func newTestBilling(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, store, store, nil), store
}

func TestCreateOrder(t *testing.T) {
	svc, _ := newTestBilling(t)

	order, err := svc.CreateOrder(context.Background(), "acct-1", "daemon-1", 5000)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != billing.OrderInit {
		t.Fatalf("expected INIT, got %s", order.Status)
	}
	if order.Amount != 5000 {
		t.Fatalf("expected amount 5000, got %d", order.Amount)
	}

	if _, err := svc.CreateOrder(context.Background(), "", "", 100); err == nil {
		t.Fatal("expected error for missing account")
	}
	if _, err := svc.CreateOrder(context.Background(), "acct-1", "", 0); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestSaveEVMTransaction(t *testing.T) {
	svc, store := newTestBilling(t)

	order, err := svc.CreateOrder(context.Background(), "acct-1", "", 5000)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	tx, err := svc.SaveEVMTransaction(context.Background(), "0xabc", order.ID, "0xsender", "0xrecipient")
	if err != nil {
		t.Fatalf("save transaction: %v", err)
	}
	if tx.Status != billing.TxPending {
		t.Fatalf("expected PENDING, got %s", tx.Status)
	}

	got, err := store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != billing.OrderProcessing {
		t.Fatalf("expected order PROCESSING after hash registration, got %s", got.Status)
	}

	// Re-submitting the same hash is an upsert, not an error.
	again, err := svc.SaveEVMTransaction(context.Background(), "0xabc", order.ID, "0xsender", "0xrecipient")
	if err != nil {
		t.Fatalf("resubmit transaction: %v", err)
	}
	if again.Hash != tx.Hash {
		t.Fatalf("expected same transaction row, got %+v", again)
	}

	txs, err := store.ListTransactionsByOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected one transaction row, got %d", len(txs))
	}
}

func TestSaveEVMTransactionUnknownOrder(t *testing.T) {
	svc, _ := newTestBilling(t)

	_, err := svc.SaveEVMTransaction(context.Background(), "0xabc", "missing", "", "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebitUsage(t *testing.T) {
	svc, store := newTestBilling(t)

	if _, err := store.CreditBalance(context.Background(), "acct-1", 1000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	bal, err := svc.DebitUsage(context.Background(), "acct-1", 300)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if bal.Balance != 700 {
		t.Fatalf("expected balance 700, got %d", bal.Balance)
	}

	if _, err := svc.DebitUsage(context.Background(), "acct-1", 0); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}
