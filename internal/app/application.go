package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/chain"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/haas"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/jobs"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/queue"
	billingsvc "github.com/AgentGrid-Network/hosting_layer/internal/app/services/billing"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/services/deployer"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage/memory"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/system"
	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Daemons      storage.DaemonStore
	Hosted       storage.HostedServiceStore
	Orders       storage.OrderStore
	Transactions storage.EVMTransactionStore
	Balances     storage.BalanceStore
	Cursors      storage.CursorStore
}

// Clients encapsulates the external systems the application talks to. Nil
// clients disable the features that depend on them.
type Clients struct {
	// Manager drives the remote daemon orchestrator.
	Manager haas.Manager
	// Ledger reads the blockchain for transfer reconciliation.
	Ledger chain.Client
	// Tasks carries deploy work to the worker. Nil defaults to the
	// in-process queue.
	Tasks queue.TaskQueue
	// Metadata resolves registry metadata URIs. Nil disables routing
	// metadata merges.
	Metadata deployer.MetadataResolver
}

// Options tunes the application-level background behaviour.
type Options struct {
	PlatformDomain       string
	StartingTTL          time.Duration
	CheckDaemonsSchedule string
	ReconcileSchedule    string
	TokenContract        string
	OrderTTL             time.Duration
	TransactionTTL       time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Deployer *deployer.Service
	Billing  *billingsvc.Service
}

// New builds a fully initialised application with the provided stores and
// clients.
func New(stores Stores, clients Clients, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Daemons == nil {
		stores.Daemons = mem
	}
	if stores.Hosted == nil {
		stores.Hosted = mem
	}
	if stores.Orders == nil {
		stores.Orders = mem
	}
	if stores.Transactions == nil {
		stores.Transactions = mem
	}
	if stores.Balances == nil {
		stores.Balances = mem
	}
	if stores.Cursors == nil {
		stores.Cursors = mem
	}

	if clients.Tasks == nil {
		clients.Tasks = queue.NewMemoryQueue(0)
	}
	if opts.CheckDaemonsSchedule == "" {
		opts.CheckDaemonsSchedule = "@every 1m"
	}
	if opts.ReconcileSchedule == "" {
		opts.ReconcileSchedule = "@every 2m"
	}

	manager := system.NewManager()

	deployerService := deployer.New(stores.Daemons, stores.Hosted, clients.Manager, clients.Tasks, log, deployer.Options{
		PlatformDomain: opts.PlatformDomain,
		StartingTTL:    opts.StartingTTL,
	})
	if clients.Metadata == nil {
		clients.Metadata = deployer.NewHTTPMetadataResolver(&http.Client{Timeout: 30 * time.Second}, "")
	}
	deployerService.AttachMetadataResolver(clients.Metadata)

	billingService := billingsvc.New(stores.Orders, stores.Transactions, stores.Balances, log)

	worker := deployer.NewWorker(deployerService, clients.Tasks, log)
	if err := manager.Register(worker); err != nil {
		return nil, fmt.Errorf("register deploy worker: %w", err)
	}

	runner := jobs.NewRunner(log)
	if err := runner.Register("check_daemons", opts.CheckDaemonsSchedule, deployerService.CheckDaemons); err != nil {
		return nil, err
	}

	if clients.Ledger != nil {
		reconciler := billingsvc.NewReconciler(clients.Ledger, stores.Orders, stores.Transactions, stores.Cursors, log, billingsvc.ReconcilerOptions{
			TokenContract:  opts.TokenContract,
			OrderTTL:       opts.OrderTTL,
			TransactionTTL: opts.TransactionTTL,
		})
		if err := runner.Register("update_transaction_status", opts.ReconcileSchedule, reconciler.UpdateTransactionStatus); err != nil {
			return nil, err
		}
	} else {
		log.Warn("no ledger client configured; transaction reconciliation disabled")
	}

	if err := manager.Register(runner); err != nil {
		return nil, fmt.Errorf("register job runner: %w", err)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Deployer: deployerService,
		Billing:  billingService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
