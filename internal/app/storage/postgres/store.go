package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/billing"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.DaemonStore = (*Store)(nil)
var _ storage.HostedServiceStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.EVMTransactionStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)
var _ storage.CursorStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrAlreadyExists
	}
	return err
}

// --- DaemonStore ------------------------------------------------------------

func (s *Store) CreateDaemon(ctx context.Context, d daemon.Daemon) (daemon.Daemon, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	configJSON, err := json.Marshal(d.Config)
	if err != nil {
		return daemon.Daemon{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daemons (id, org_id, service_id, account_id, status, config, endpoint, service_published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.OrgID, d.ServiceID, d.AccountID, string(d.Status), configJSON, d.Endpoint, d.ServicePublished, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return daemon.Daemon{}, translateErr(err)
	}
	return d, nil
}

func (s *Store) UpdateDaemon(ctx context.Context, d daemon.Daemon) (daemon.Daemon, error) {
	d.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(d.Config)
	if err != nil {
		return daemon.Daemon{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE daemons
		SET account_id = $2, status = $3, config = $4, endpoint = $5, service_published = $6, updated_at = $7
		WHERE id = $1
	`, d.ID, d.AccountID, string(d.Status), configJSON, d.Endpoint, d.ServicePublished, d.UpdatedAt)
	if err != nil {
		return daemon.Daemon{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return daemon.Daemon{}, storage.ErrNotFound
	}
	return d, nil
}

const daemonColumns = `id, org_id, service_id, account_id, status, config, endpoint, service_published, created_at, updated_at`

func scanDaemon(scanner interface{ Scan(...any) error }) (daemon.Daemon, error) {
	var (
		d         daemon.Daemon
		status    string
		configRaw []byte
	)
	if err := scanner.Scan(&d.ID, &d.OrgID, &d.ServiceID, &d.AccountID, &status, &configRaw, &d.Endpoint, &d.ServicePublished, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return daemon.Daemon{}, translateErr(err)
	}
	d.Status = daemon.Status(status)
	if len(configRaw) > 0 {
		_ = json.Unmarshal(configRaw, &d.Config)
	}
	return d, nil
}

func (s *Store) GetDaemon(ctx context.Context, id string) (daemon.Daemon, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+daemonColumns+` FROM daemons WHERE id = $1
	`, id)
	return scanDaemon(row)
}

func (s *Store) GetDaemonByService(ctx context.Context, orgID, serviceID string) (daemon.Daemon, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+daemonColumns+` FROM daemons
		WHERE lower(org_id) = lower($1) AND lower(service_id) = lower($2)
	`, orgID, serviceID)
	return scanDaemon(row)
}

func (s *Store) ListDaemons(ctx context.Context, filter storage.DaemonFilter) ([]daemon.Daemon, error) {
	query := `SELECT ` + daemonColumns + ` FROM daemons WHERE 1=1`
	args := []any{}

	if filter.OrgID != "" {
		args = append(args, filter.OrgID)
		query += ` AND lower(org_id) = lower($` + itoa(len(args)) + `)`
	}
	if filter.ServiceID != "" {
		args = append(args, filter.ServiceID)
		query += ` AND lower(service_id) = lower($` + itoa(len(args)) + `)`
	}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		query += ` AND account_id = $` + itoa(len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		query += ` AND status = ANY($` + itoa(len(args)) + `)`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var result []daemon.Daemon
	for rows.Next() {
		d, err := scanDaemon(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func itoa(n int) string { return strconv.Itoa(n) }

// --- HostedServiceStore -----------------------------------------------------

func (s *Store) CreateHostedService(ctx context.Context, hs daemon.HostedService) (daemon.HostedService, error) {
	if hs.ID == "" {
		hs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	hs.CreatedAt = now
	hs.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosted_services (id, daemon_id, status, repo_url, commit_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, hs.ID, hs.DaemonID, string(hs.Status), hs.RepoURL, hs.CommitHash, hs.CreatedAt, hs.UpdatedAt)
	if err != nil {
		return daemon.HostedService{}, translateErr(err)
	}
	return hs, nil
}

func (s *Store) UpdateHostedService(ctx context.Context, hs daemon.HostedService) (daemon.HostedService, error) {
	hs.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE hosted_services
		SET status = $2, repo_url = $3, commit_hash = $4, updated_at = $5
		WHERE daemon_id = $1
	`, hs.DaemonID, string(hs.Status), hs.RepoURL, hs.CommitHash, hs.UpdatedAt)
	if err != nil {
		return daemon.HostedService{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return daemon.HostedService{}, storage.ErrNotFound
	}
	return hs, nil
}

func (s *Store) GetHostedServiceByDaemon(ctx context.Context, daemonID string) (daemon.HostedService, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, daemon_id, status, repo_url, commit_hash, created_at, updated_at
		FROM hosted_services WHERE daemon_id = $1
	`, daemonID)

	var (
		hs     daemon.HostedService
		status string
	)
	if err := row.Scan(&hs.ID, &hs.DaemonID, &status, &hs.RepoURL, &hs.CommitHash, &hs.CreatedAt, &hs.UpdatedAt); err != nil {
		return daemon.HostedService{}, translateErr(err)
	}
	hs.Status = daemon.Status(status)
	return hs, nil
}

// --- OrderStore -------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, o billing.Order) (billing.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = billing.OrderInit
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, daemon_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.AccountID, o.DaemonID, o.Amount, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return billing.Order{}, translateErr(err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (billing.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, daemon_id, amount, status, created_at, updated_at
		FROM orders WHERE id = $1
	`, id)
	return scanOrder(row)
}

func scanOrder(scanner interface{ Scan(...any) error }) (billing.Order, error) {
	var (
		o      billing.Order
		status string
	)
	if err := scanner.Scan(&o.ID, &o.AccountID, &o.DaemonID, &o.Amount, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return billing.Order{}, translateErr(err)
	}
	o.Status = billing.OrderStatus(status)
	return o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to billing.OrderStatus) (billing.Order, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return billing.Order{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Distinguish a missing order from a status mismatch.
		if _, getErr := s.GetOrder(ctx, id); getErr != nil {
			return billing.Order{}, getErr
		}
		return billing.Order{}, storage.ErrConflict
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) ListOrders(ctx context.Context, accountID string) ([]billing.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, daemon_id, amount, status, created_at, updated_at
		FROM orders WHERE ($1 = '' OR account_id = $1)
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var result []billing.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// SettleOrder promotes a PROCESSING order to SUCCESS and credits the account
// balance inside one transaction. The row lock plus status predicate make a
// concurrent second settlement observe ErrConflict instead of double-crediting.
func (s *Store) SettleOrder(ctx context.Context, id string) (billing.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Order{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, account_id, daemon_id, amount, status, created_at, updated_at
		FROM orders WHERE id = $1 FOR UPDATE
	`, id)
	o, err := scanOrder(row)
	if err != nil {
		return billing.Order{}, err
	}
	if o.Status != billing.OrderProcessing {
		return billing.Order{}, storage.ErrConflict
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, o.ID, string(billing.OrderSuccess), now); err != nil {
		return billing.Order{}, translateErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_balances (account_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE
		SET balance = account_balances.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
	`, o.AccountID, o.Amount, now); err != nil {
		return billing.Order{}, translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return billing.Order{}, err
	}
	o.Status = billing.OrderSuccess
	o.UpdatedAt = now
	return o, nil
}

func (s *Store) ExpireOrders(ctx context.Context, cutoff time.Time, from, to billing.OrderStatus) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE status = $1 AND updated_at < $2
	`, string(from), cutoff, string(to), time.Now().UTC())
	if err != nil {
		return 0, translateErr(err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// --- EVMTransactionStore ----------------------------------------------------

func (s *Store) UpsertTransaction(ctx context.Context, t billing.EVMTransaction) (billing.EVMTransaction, error) {
	if t.Status == "" {
		t.Status = billing.TxPending
	}
	now := time.Now().UTC()

	// Existing rows keep their sender/recipient and any established order
	// linkage; only status (and a first-time order id) may change.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evm_transactions (hash, order_id, status, sender, recipient, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (hash) DO UPDATE SET
			status = EXCLUDED.status,
			order_id = CASE WHEN evm_transactions.order_id = '' THEN EXCLUDED.order_id ELSE evm_transactions.order_id END,
			updated_at = EXCLUDED.updated_at
	`, t.Hash, t.OrderID, string(t.Status), t.Sender, t.Recipient, now)
	if err != nil {
		return billing.EVMTransaction{}, translateErr(err)
	}
	return s.GetTransaction(ctx, t.Hash)
}

func scanTransaction(scanner interface{ Scan(...any) error }) (billing.EVMTransaction, error) {
	var (
		t      billing.EVMTransaction
		status string
	)
	if err := scanner.Scan(&t.Hash, &t.OrderID, &status, &t.Sender, &t.Recipient, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return billing.EVMTransaction{}, translateErr(err)
	}
	t.Status = billing.TxStatus(status)
	return t, nil
}

func (s *Store) GetTransaction(ctx context.Context, hash string) (billing.EVMTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, order_id, status, sender, recipient, created_at, updated_at
		FROM evm_transactions WHERE hash = $1
	`, hash)
	return scanTransaction(row)
}

func (s *Store) ListTransactionsByOrder(ctx context.Context, orderID string) ([]billing.EVMTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, order_id, status, sender, recipient, created_at, updated_at
		FROM evm_transactions WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var result []billing.EVMTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) ExpireTransactions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE evm_transactions SET status = $3, updated_at = $4
		WHERE status = $1 AND updated_at < $2
	`, string(billing.TxPending), cutoff, string(billing.TxFailed), time.Now().UTC())
	if err != nil {
		return 0, translateErr(err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// --- BalanceStore -----------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, accountID string) (billing.AccountBalance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, balance, updated_at FROM account_balances WHERE account_id = $1
	`, accountID)

	var bal billing.AccountBalance
	if err := row.Scan(&bal.AccountID, &bal.Balance, &bal.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return billing.AccountBalance{AccountID: accountID}, nil
		}
		return billing.AccountBalance{}, err
	}
	return bal, nil
}

func (s *Store) CreditBalance(ctx context.Context, accountID string, amount int64) (billing.AccountBalance, error) {
	return s.adjustBalance(ctx, accountID, amount)
}

func (s *Store) DebitBalance(ctx context.Context, accountID string, amount int64) (billing.AccountBalance, error) {
	return s.adjustBalance(ctx, accountID, -amount)
}

func (s *Store) adjustBalance(ctx context.Context, accountID string, delta int64) (billing.AccountBalance, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_balances (account_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE
		SET balance = account_balances.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
	`, accountID, delta, now)
	if err != nil {
		return billing.AccountBalance{}, translateErr(err)
	}
	return s.GetBalance(ctx, accountID)
}

// --- CursorStore ------------------------------------------------------------

func (s *Store) ListCursors(ctx context.Context) ([]billing.TransactionsMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipient, last_block_no, fetch_limit, block_adjustment, updated_at
		FROM transactions_metadata ORDER BY recipient
	`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var result []billing.TransactionsMetadata
	for rows.Next() {
		var c billing.TransactionsMetadata
		if err := rows.Scan(&c.Recipient, &c.LastBlockNo, &c.FetchLimit, &c.BlockAdjustment, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) GetCursor(ctx context.Context, recipient string) (billing.TransactionsMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT recipient, last_block_no, fetch_limit, block_adjustment, updated_at
		FROM transactions_metadata WHERE lower(recipient) = lower($1)
	`, recipient)

	var c billing.TransactionsMetadata
	if err := row.Scan(&c.Recipient, &c.LastBlockNo, &c.FetchLimit, &c.BlockAdjustment, &c.UpdatedAt); err != nil {
		return billing.TransactionsMetadata{}, translateErr(err)
	}
	return c, nil
}

func (s *Store) PutCursor(ctx context.Context, meta billing.TransactionsMetadata) (billing.TransactionsMetadata, error) {
	meta.UpdatedAt = time.Now().UTC()

	// The WHERE guard keeps last_block_no monotonic under concurrent writers.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions_metadata (recipient, last_block_no, fetch_limit, block_adjustment, updated_at)
		VALUES (lower($1), $2, $3, $4, $5)
		ON CONFLICT (recipient) DO UPDATE
		SET last_block_no = EXCLUDED.last_block_no,
		    fetch_limit = EXCLUDED.fetch_limit,
		    block_adjustment = EXCLUDED.block_adjustment,
		    updated_at = EXCLUDED.updated_at
		WHERE transactions_metadata.last_block_no <= EXCLUDED.last_block_no
	`, meta.Recipient, meta.LastBlockNo, meta.FetchLimit, meta.BlockAdjustment, meta.UpdatedAt)
	if err != nil {
		return billing.TransactionsMetadata{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return billing.TransactionsMetadata{}, storage.ErrConflict
	}
	return meta, nil
}
