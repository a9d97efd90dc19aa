package billing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/chain"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/billing"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/metrics"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

// ReconcilerOptions tunes the reconciliation loop.
type ReconcilerOptions struct {
	// TokenContract is the ERC20 contract whose transfers fund orders.
	TokenContract string
	// OrderTTL bounds how long an order may sit in INIT or PROCESSING.
	OrderTTL time.Duration
	// TransactionTTL bounds how long a transaction may stay PENDING.
	TransactionTTL time.Duration
}

// Reconciler closes the gap between client-reported transaction hashes and
// on-chain reality, crediting balances exactly once per confirmed transfer.
type Reconciler struct {
	ledger  chain.Client
	orders  storage.OrderStore
	txs     storage.EVMTransactionStore
	cursors storage.CursorStore
	opts    ReconcilerOptions
	log     *logger.Logger
}

// NewReconciler creates a configured reconciler.
func NewReconciler(ledger chain.Client, orders storage.OrderStore, txs storage.EVMTransactionStore, cursors storage.CursorStore, log *logger.Logger, opts ReconcilerOptions) *Reconciler {
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	if opts.OrderTTL <= 0 {
		opts.OrderTTL = 24 * time.Hour
	}
	if opts.TransactionTTL <= 0 {
		opts.TransactionTTL = 24 * time.Hour
	}
	return &Reconciler{
		ledger:  ledger,
		orders:  orders,
		txs:     txs,
		cursors: cursors,
		opts:    opts,
		log:     log,
	}
}

// UpdateTransactionStatus runs one reconciliation pass: scan a bounded block
// window per tracked recipient, settle matching orders, advance cursors, then
// sweep stale pending state. A failure for one recipient does not abort the
// others.
func (r *Reconciler) UpdateTransactionStatus(ctx context.Context) error {
	cursorList, err := r.cursors.ListCursors(ctx)
	if err != nil {
		return fmt.Errorf("list cursors: %w", err)
	}

	head, err := r.ledger.CurrentBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("current block number: %w", err)
	}

	for _, cursor := range cursorList {
		if err := r.scanRecipient(ctx, cursor, head); err != nil {
			r.log.WithError(err).Warnf("scan recipient %s", cursor.Recipient)
		}
	}

	r.sweep(ctx)
	return nil
}

// scanRecipient processes one recipient's window. The cursor is persisted
// only after the whole window is processed, so a crash mid-window replays it;
// replaying is safe because settlement is guarded by order status.
func (r *Reconciler) scanRecipient(ctx context.Context, cursor billing.TransactionsMetadata, head uint64) error {
	from, to, ok := scanWindow(cursor, head)
	if !ok {
		return nil
	}

	events, err := r.ledger.TransferEvents(ctx, r.opts.TokenContract, from, to, cursor.Recipient)
	if err != nil {
		return fmt.Errorf("transfer events [%d,%d]: %w", from, to, err)
	}

	for _, event := range events {
		if err := r.processTransfer(ctx, event); err != nil {
			// One bad event never blocks the batch.
			metrics.ReconciledTransfer("integrity_error")
			r.log.WithError(err).Warnf("process transfer %s", event.TxHash)
		}
	}

	cursor.LastBlockNo = to
	if _, err := r.cursors.PutCursor(ctx, cursor); err != nil {
		return fmt.Errorf("advance cursor to %d: %w", to, err)
	}
	return nil
}

// scanWindow computes [last+1, min(head-adjustment, last+fetchLimit)]. The
// upper bound lags the head to keep reorged blocks out of settlement, and the
// fetch limit caps a window at exactly FetchLimit blocks so one pass never
// exceeds its RPC budget.
func scanWindow(cursor billing.TransactionsMetadata, head uint64) (from, to uint64, ok bool) {
	if head <= cursor.BlockAdjustment {
		return 0, 0, false
	}
	safeHead := head - cursor.BlockAdjustment

	from = cursor.LastBlockNo + 1
	if from > safeHead {
		return 0, 0, false
	}

	to = safeHead
	if cursor.FetchLimit > 0 && cursor.LastBlockNo+cursor.FetchLimit < to {
		to = cursor.LastBlockNo + cursor.FetchLimit
	}
	return from, to, true
}

// processTransfer resolves one observed transfer into order settlement.
func (r *Reconciler) processTransfer(ctx context.Context, event chain.TransferEvent) error {
	orderID, err := r.resolveOrderID(ctx, event.TxHash)
	if err != nil {
		return err
	}
	if orderID == "" {
		return fmt.Errorf("transfer %s carries no order id and no prior registration", event.TxHash)
	}

	observed := billing.EVMTransaction{
		Hash:      event.TxHash,
		OrderID:   orderID,
		Status:    billing.TxPending,
		Sender:    event.From,
		Recipient: event.To,
	}
	if _, err := r.txs.UpsertTransaction(ctx, observed); err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}

	order, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", orderID, err)
	}

	if event.Value == nil || event.Value.Cmp(big.NewInt(order.Amount)) != 0 {
		// The transaction stays PENDING and ages out through the sweep.
		metrics.ReconciledTransfer("amount_mismatch")
		r.log.Warnf("transfer %s amount %s does not match order %s amount %d; skipped",
			event.TxHash, event.Value, order.ID, order.Amount)
		return nil
	}

	// The transfer is on chain with the right amount; mark the transaction
	// SUCCESS even when the order was already settled by an earlier pass.
	observed.Status = billing.TxSuccess
	if _, err := r.txs.UpsertTransaction(ctx, observed); err != nil {
		return fmt.Errorf("confirm transaction: %w", err)
	}

	if order.Status != billing.OrderProcessing {
		// Already settled, cancelled or never activated; re-observations land here.
		metrics.ReconciledTransfer("skipped")
		r.log.Debugf("transfer %s for order %s in status %s skipped", event.TxHash, order.ID, order.Status)
		return nil
	}

	settled, err := r.orders.SettleOrder(ctx, order.ID)
	if errors.Is(err, storage.ErrConflict) {
		// Raced with another settlement of the same order.
		metrics.ReconciledTransfer("skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle order %s: %w", order.ID, err)
	}

	metrics.ReconciledTransfer("credited")
	metrics.CreditedCogs(settled.Amount)
	r.log.WithField("order_id", settled.ID).
		WithField("tx_hash", event.TxHash).
		WithField("amount", settled.Amount).
		Info("order settled")
	return nil
}

// resolveOrderID recovers the order for a transfer: first from the call-data
// tail the client appended, then from a previously registered transaction row.
func (r *Reconciler) resolveOrderID(ctx context.Context, txHash string) (string, error) {
	input, err := r.ledger.TransactionInput(ctx, txHash)
	if err != nil {
		return "", fmt.Errorf("transaction input: %w", err)
	}
	if id := chain.ExtractOrderID(input); id != "" {
		return id, nil
	}

	existing, err := r.txs.GetTransaction(ctx, txHash)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return existing.OrderID, nil
}

// sweep expires stale pending state so abandoned payments stop blocking
// retries. Failures are logged; the sweep is best effort per entity.
func (r *Reconciler) sweep(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := r.orders.ExpireOrders(ctx, now.Add(-r.opts.OrderTTL), billing.OrderInit, billing.OrderCancelled); err != nil {
		r.log.WithError(err).Warn("expire INIT orders")
	} else if n > 0 {
		r.log.Infof("cancelled %d stale INIT orders", n)
	}

	if n, err := r.orders.ExpireOrders(ctx, now.Add(-r.opts.OrderTTL), billing.OrderProcessing, billing.OrderFailed); err != nil {
		r.log.WithError(err).Warn("expire PROCESSING orders")
	} else if n > 0 {
		r.log.Infof("failed %d stale PROCESSING orders", n)
	}

	if n, err := r.txs.ExpireTransactions(ctx, now.Add(-r.opts.TransactionTTL)); err != nil {
		r.log.WithError(err).Warn("expire pending transactions")
	} else if n > 0 {
		r.log.Infof("failed %d stale pending transactions", n)
	}
}
