// Package billing manages funding orders, client-reported blockchain
// transactions and the account credit ledger, plus the reconciliation loop
// that turns observed on-chain transfers into balance credits.
package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/billing"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

// Service handles the request-path billing operations.
type Service struct {
	orders   storage.OrderStore
	txs      storage.EVMTransactionStore
	balances storage.BalanceStore
	log      *logger.Logger
}

// New creates a configured billing service.
func New(orders storage.OrderStore, txs storage.EVMTransactionStore, balances storage.BalanceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("billing")
	}
	return &Service{orders: orders, txs: txs, balances: balances, log: log}
}

// CreateOrder opens a funding order for an account. Amount is in cogs and is
// immutable afterwards.
func (s *Service) CreateOrder(ctx context.Context, accountID, daemonID string, amount int64) (billing.Order, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return billing.Order{}, fmt.Errorf("account_id is required")
	}
	if amount <= 0 {
		return billing.Order{}, fmt.Errorf("amount must be positive")
	}

	order, err := s.orders.CreateOrder(ctx, billing.Order{
		AccountID: accountID,
		DaemonID:  strings.TrimSpace(daemonID),
		Amount:    amount,
		Status:    billing.OrderInit,
	})
	if err != nil {
		return billing.Order{}, err
	}

	s.log.WithField("order_id", order.ID).
		WithField("account_id", accountID).
		WithField("amount", amount).
		Info("order created")
	return order, nil
}

// SaveEVMTransaction registers a client-reported transaction hash against an
// order and moves the order into PROCESSING. Re-submitting the same hash is
// an upsert and never duplicates the row or drops the order linkage.
func (s *Service) SaveEVMTransaction(ctx context.Context, hash, orderID, sender, recipient string) (billing.EVMTransaction, error) {
	hash = strings.TrimSpace(hash)
	orderID = strings.TrimSpace(orderID)
	if hash == "" {
		return billing.EVMTransaction{}, fmt.Errorf("transaction hash is required")
	}
	if orderID == "" {
		return billing.EVMTransaction{}, fmt.Errorf("order_id is required")
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return billing.EVMTransaction{}, err
	}

	tx, err := s.txs.UpsertTransaction(ctx, billing.EVMTransaction{
		Hash:      hash,
		OrderID:   order.ID,
		Status:    billing.TxPending,
		Sender:    strings.TrimSpace(sender),
		Recipient: strings.TrimSpace(recipient),
	})
	if err != nil {
		return billing.EVMTransaction{}, err
	}

	if order.Status == billing.OrderInit {
		if _, err := s.orders.UpdateOrderStatus(ctx, order.ID, billing.OrderInit, billing.OrderProcessing); err != nil {
			return billing.EVMTransaction{}, fmt.Errorf("advance order to processing: %w", err)
		}
	}

	s.log.WithField("order_id", order.ID).
		WithField("tx_hash", hash).
		Info("transaction registered")
	return tx, nil
}

// GetOrder fetches one order.
func (s *Service) GetOrder(ctx context.Context, id string) (billing.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

// ListOrders lists orders for an account.
func (s *Service) ListOrders(ctx context.Context, accountID string) ([]billing.Order, error) {
	return s.orders.ListOrders(ctx, accountID)
}

// GetTransaction fetches one transaction by hash.
func (s *Service) GetTransaction(ctx context.Context, hash string) (billing.EVMTransaction, error) {
	return s.txs.GetTransaction(ctx, hash)
}

// GetBalance reads the account's credit ledger.
func (s *Service) GetBalance(ctx context.Context, accountID string) (billing.AccountBalance, error) {
	return s.balances.GetBalance(ctx, accountID)
}

// DebitUsage charges an account for metered service calls.
func (s *Service) DebitUsage(ctx context.Context, accountID string, amount int64) (billing.AccountBalance, error) {
	if amount <= 0 {
		return billing.AccountBalance{}, fmt.Errorf("amount must be positive")
	}
	bal, err := s.balances.DebitBalance(ctx, accountID, amount)
	if err != nil {
		return billing.AccountBalance{}, err
	}
	s.log.WithField("account_id", accountID).
		WithField("amount", amount).
		Info("usage debited")
	return bal, nil
}
