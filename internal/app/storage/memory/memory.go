package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/billing"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	daemons        map[string]daemon.Daemon
	daemonsByKey   map[string]string               // org/service -> daemon id
	hostedServices map[string]daemon.HostedService // keyed by daemon id
	orders         map[string]billing.Order
	transactions   map[string]billing.EVMTransaction // keyed by hash
	balances       map[string]billing.AccountBalance
	cursors        map[string]billing.TransactionsMetadata
}

var _ storage.DaemonStore = (*Store)(nil)
var _ storage.HostedServiceStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.EVMTransactionStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)
var _ storage.CursorStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		daemons:        make(map[string]daemon.Daemon),
		daemonsByKey:   make(map[string]string),
		hostedServices: make(map[string]daemon.HostedService),
		orders:         make(map[string]billing.Order),
		transactions:   make(map[string]billing.EVMTransaction),
		balances:       make(map[string]billing.AccountBalance),
		cursors:        make(map[string]billing.TransactionsMetadata),
	}
}

func serviceKey(orgID, serviceID string) string {
	return strings.ToLower(orgID) + "/" + strings.ToLower(serviceID)
}

// DaemonStore implementation --------------------------------------------------

func (s *Store) CreateDaemon(_ context.Context, d daemon.Daemon) (daemon.Daemon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := serviceKey(d.OrgID, d.ServiceID)
	if _, exists := s.daemonsByKey[key]; exists {
		return daemon.Daemon{}, storage.ErrAlreadyExists
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	s.daemons[d.ID] = d
	s.daemonsByKey[key] = d.ID
	return d, nil
}

func (s *Store) UpdateDaemon(_ context.Context, d daemon.Daemon) (daemon.Daemon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.daemons[d.ID]
	if !ok {
		return daemon.Daemon{}, storage.ErrNotFound
	}
	d.OrgID = original.OrgID
	d.ServiceID = original.ServiceID
	d.CreatedAt = original.CreatedAt
	d.UpdatedAt = time.Now().UTC()

	s.daemons[d.ID] = d
	return d, nil
}

func (s *Store) GetDaemon(_ context.Context, id string) (daemon.Daemon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.daemons[id]
	if !ok {
		return daemon.Daemon{}, storage.ErrNotFound
	}
	return d, nil
}

func (s *Store) GetDaemonByService(_ context.Context, orgID, serviceID string) (daemon.Daemon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.daemonsByKey[serviceKey(orgID, serviceID)]
	if !ok {
		return daemon.Daemon{}, storage.ErrNotFound
	}
	return s.daemons[id], nil
}

func (s *Store) ListDaemons(_ context.Context, filter storage.DaemonFilter) ([]daemon.Daemon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []daemon.Daemon
	for _, d := range s.daemons {
		if filter.OrgID != "" && !strings.EqualFold(d.OrgID, filter.OrgID) {
			continue
		}
		if filter.ServiceID != "" && !strings.EqualFold(d.ServiceID, filter.ServiceID) {
			continue
		}
		if filter.AccountID != "" && d.AccountID != filter.AccountID {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(d.Status, filter.Statuses) {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func statusIn(status daemon.Status, set []daemon.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// HostedServiceStore implementation -------------------------------------------

func (s *Store) CreateHostedService(_ context.Context, hs daemon.HostedService) (daemon.HostedService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.hostedServices[hs.DaemonID]; exists {
		return daemon.HostedService{}, storage.ErrAlreadyExists
	}
	if hs.ID == "" {
		hs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	hs.CreatedAt = now
	hs.UpdatedAt = now

	s.hostedServices[hs.DaemonID] = hs
	return hs, nil
}

func (s *Store) UpdateHostedService(_ context.Context, hs daemon.HostedService) (daemon.HostedService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.hostedServices[hs.DaemonID]
	if !ok {
		return daemon.HostedService{}, storage.ErrNotFound
	}
	hs.ID = original.ID
	hs.CreatedAt = original.CreatedAt
	hs.UpdatedAt = time.Now().UTC()

	s.hostedServices[hs.DaemonID] = hs
	return hs, nil
}

func (s *Store) GetHostedServiceByDaemon(_ context.Context, daemonID string) (daemon.HostedService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hs, ok := s.hostedServices[daemonID]
	if !ok {
		return daemon.HostedService{}, storage.ErrNotFound
	}
	return hs, nil
}

// OrderStore implementation ---------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, o billing.Order) (billing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	} else if _, exists := s.orders[o.ID]; exists {
		return billing.Order{}, storage.ErrAlreadyExists
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = billing.OrderInit
	}

	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (billing.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return billing.Order{}, storage.ErrNotFound
	}
	return o, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, from, to billing.OrderStatus) (billing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return billing.Order{}, storage.ErrNotFound
	}
	if o.Status != from {
		return billing.Order{}, storage.ErrConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return o, nil
}

func (s *Store) ListOrders(_ context.Context, accountID string) ([]billing.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []billing.Order
	for _, o := range s.orders {
		if accountID == "" || o.AccountID == accountID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// SettleOrder moves a PROCESSING order to SUCCESS and credits the owning
// account in one critical section, mirroring the SQL store's transaction.
func (s *Store) SettleOrder(_ context.Context, id string) (billing.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return billing.Order{}, storage.ErrNotFound
	}
	if o.Status != billing.OrderProcessing {
		return billing.Order{}, storage.ErrConflict
	}
	now := time.Now().UTC()
	o.Status = billing.OrderSuccess
	o.UpdatedAt = now
	s.orders[id] = o

	bal := s.balances[o.AccountID]
	bal.AccountID = o.AccountID
	bal.Balance += o.Amount
	bal.UpdatedAt = now
	s.balances[o.AccountID] = bal

	return o, nil
}

func (s *Store) ExpireOrders(_ context.Context, cutoff time.Time, from, to billing.OrderStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	now := time.Now().UTC()
	for id, o := range s.orders {
		if o.Status == from && o.UpdatedAt.Before(cutoff) {
			o.Status = to
			o.UpdatedAt = now
			s.orders[id] = o
			expired++
		}
	}
	return expired, nil
}

// EVMTransactionStore implementation ------------------------------------------

func (s *Store) UpsertTransaction(_ context.Context, tx billing.EVMTransaction) (billing.EVMTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.transactions[tx.Hash]
	if !ok {
		if tx.Status == "" {
			tx.Status = billing.TxPending
		}
		tx.CreatedAt = now
		tx.UpdatedAt = now
		s.transactions[tx.Hash] = tx
		return tx, nil
	}

	if tx.Status != "" {
		existing.Status = tx.Status
	}
	if existing.OrderID == "" && tx.OrderID != "" {
		existing.OrderID = tx.OrderID
	}
	existing.UpdatedAt = now
	s.transactions[tx.Hash] = existing
	return existing, nil
}

func (s *Store) GetTransaction(_ context.Context, hash string) (billing.EVMTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[hash]
	if !ok {
		return billing.EVMTransaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) ListTransactionsByOrder(_ context.Context, orderID string) ([]billing.EVMTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []billing.EVMTransaction
	for _, tx := range s.transactions {
		if tx.OrderID == orderID {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ExpireTransactions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	now := time.Now().UTC()
	for hash, tx := range s.transactions {
		if tx.Status == billing.TxPending && tx.UpdatedAt.Before(cutoff) {
			tx.Status = billing.TxFailed
			tx.UpdatedAt = now
			s.transactions[hash] = tx
			expired++
		}
	}
	return expired, nil
}

// BalanceStore implementation -------------------------------------------------

func (s *Store) GetBalance(_ context.Context, accountID string) (billing.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[accountID]
	if !ok {
		return billing.AccountBalance{AccountID: accountID}, nil
	}
	return bal, nil
}

func (s *Store) CreditBalance(_ context.Context, accountID string, amount int64) (billing.AccountBalance, error) {
	return s.adjustBalance(accountID, amount)
}

func (s *Store) DebitBalance(_ context.Context, accountID string, amount int64) (billing.AccountBalance, error) {
	return s.adjustBalance(accountID, -amount)
}

func (s *Store) adjustBalance(accountID string, delta int64) (billing.AccountBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balances[accountID]
	bal.AccountID = accountID
	bal.Balance += delta
	bal.UpdatedAt = time.Now().UTC()
	s.balances[accountID] = bal
	return bal, nil
}

// CursorStore implementation --------------------------------------------------

func (s *Store) ListCursors(_ context.Context) ([]billing.TransactionsMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]billing.TransactionsMetadata, 0, len(s.cursors))
	for _, c := range s.cursors {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Recipient < result[j].Recipient })
	return result, nil
}

func (s *Store) GetCursor(_ context.Context, recipient string) (billing.TransactionsMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[strings.ToLower(recipient)]
	if !ok {
		return billing.TransactionsMetadata{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) PutCursor(_ context.Context, meta billing.TransactionsMetadata) (billing.TransactionsMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(meta.Recipient)
	if existing, ok := s.cursors[key]; ok && meta.LastBlockNo < existing.LastBlockNo {
		return billing.TransactionsMetadata{}, storage.ErrConflict
	}
	meta.UpdatedAt = time.Now().UTC()
	s.cursors[key] = meta
	return meta, nil
}
