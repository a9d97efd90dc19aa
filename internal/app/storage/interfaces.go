package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/billing"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
)

// Sentinel errors returned by every store implementation. "Not found" is a
// normal branch for callers, never an exceptional condition.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrConflict      = errors.New("record state conflict")
)

// DaemonFilter narrows daemon listings.
type DaemonFilter struct {
	OrgID     string
	ServiceID string
	AccountID string
	Statuses  []daemon.Status
}

// DaemonStore persists daemon records. Creation enforces uniqueness per
// (org_id, service_id); concurrent creators race on that constraint.
type DaemonStore interface {
	CreateDaemon(ctx context.Context, d daemon.Daemon) (daemon.Daemon, error)
	UpdateDaemon(ctx context.Context, d daemon.Daemon) (daemon.Daemon, error)
	GetDaemon(ctx context.Context, id string) (daemon.Daemon, error)
	GetDaemonByService(ctx context.Context, orgID, serviceID string) (daemon.Daemon, error)
	ListDaemons(ctx context.Context, filter DaemonFilter) ([]daemon.Daemon, error)
}

// HostedServiceStore persists hosted-service records attached to daemons.
type HostedServiceStore interface {
	CreateHostedService(ctx context.Context, hs daemon.HostedService) (daemon.HostedService, error)
	UpdateHostedService(ctx context.Context, hs daemon.HostedService) (daemon.HostedService, error)
	GetHostedServiceByDaemon(ctx context.Context, daemonID string) (daemon.HostedService, error)
}

// OrderStore persists funding orders. SettleOrder atomically moves a
// PROCESSING order to SUCCESS and credits the owning account's balance in the
// same transaction; any other current status yields ErrConflict and no writes.
type OrderStore interface {
	CreateOrder(ctx context.Context, o billing.Order) (billing.Order, error)
	GetOrder(ctx context.Context, id string) (billing.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to billing.OrderStatus) (billing.Order, error)
	ListOrders(ctx context.Context, accountID string) ([]billing.Order, error)
	SettleOrder(ctx context.Context, id string) (billing.Order, error)
	ExpireOrders(ctx context.Context, cutoff time.Time, from, to billing.OrderStatus) (int64, error)
}

// EVMTransactionStore persists blockchain transaction attempts keyed by hash.
// UpsertTransaction inserts a new hash or updates the status of an existing
// row; sender, recipient and an established order linkage are never
// overwritten by a re-observation.
type EVMTransactionStore interface {
	UpsertTransaction(ctx context.Context, tx billing.EVMTransaction) (billing.EVMTransaction, error)
	GetTransaction(ctx context.Context, hash string) (billing.EVMTransaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID string) ([]billing.EVMTransaction, error)
	ExpireTransactions(ctx context.Context, cutoff time.Time) (int64, error)
}

// BalanceStore persists the per-account credit ledger.
type BalanceStore interface {
	GetBalance(ctx context.Context, accountID string) (billing.AccountBalance, error)
	CreditBalance(ctx context.Context, accountID string, amount int64) (billing.AccountBalance, error)
	DebitBalance(ctx context.Context, accountID string, amount int64) (billing.AccountBalance, error)
}

// CursorStore persists per-recipient reconciliation scan cursors. PutCursor
// rejects attempts to move last_block_no backwards with ErrConflict.
type CursorStore interface {
	ListCursors(ctx context.Context) ([]billing.TransactionsMetadata, error)
	GetCursor(ctx context.Context, recipient string) (billing.TransactionsMetadata, error)
	PutCursor(ctx context.Context, meta billing.TransactionsMetadata) (billing.TransactionsMetadata, error)
}
