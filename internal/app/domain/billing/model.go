// Package billing holds the payment-side domain model: funding orders, the
// on-chain transactions backing them, per-recipient scan cursors, and the
// account credit ledger. Amounts are integer cogs, the token's smallest unit.
package billing

import "time"

// OrderStatus is the funding-order state. Transitions are monotonic: an order
// that reached SUCCESS, FAILED or CANCELLED never moves again.
type OrderStatus string

const (
	OrderInit       OrderStatus = "INIT"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderSuccess    OrderStatus = "SUCCESS"
	OrderFailed     OrderStatus = "FAILED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transition.
func (s OrderStatus) Terminal() bool {
	return s == OrderSuccess || s == OrderFailed || s == OrderCancelled
}

// Order is one funding attempt. Amount is immutable after creation; only the
// reconciliation loop moves an order to SUCCESS.
type Order struct {
	ID        string
	AccountID string
	DaemonID  string
	Amount    int64 // cogs
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TxStatus is the observed state of a blockchain transaction.
type TxStatus string

const (
	TxPending TxStatus = "PENDING"
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
)

// EVMTransaction is one blockchain transaction attempt, keyed by hash. An
// order may accumulate several attempts but at most one resolves to SUCCESS.
type EVMTransaction struct {
	Hash      string
	OrderID   string // empty until resolved
	Status    TxStatus
	Sender    string
	Recipient string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionsMetadata is the reconciliation scan cursor for one tracked
// recipient address. LastBlockNo only ever increases.
type TransactionsMetadata struct {
	Recipient       string
	LastBlockNo     uint64
	FetchLimit      uint64 // max blocks scanned per run
	BlockAdjustment uint64 // confirmation lag against chain reorgs
	UpdatedAt       time.Time
}

// AccountBalance is the running credit ledger for one account, in cogs.
type AccountBalance struct {
	AccountID string
	Balance   int64
	UpdatedAt time.Time
}
