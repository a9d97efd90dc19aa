// Package main runs the hosting layer daemon: the REST API, the deploy
// worker and the background jobs that keep daemon and payment state honest.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/AgentGrid-Network/hosting_layer/internal/app"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/chain"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/haas"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/httpapi"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/queue"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage/postgres"
	"github.com/AgentGrid-Network/hosting_layer/internal/config"
	"github.com/AgentGrid-Network/hosting_layer/internal/platform/migrations"
	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hostingd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: "hostingd",
	})

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = migrations.Apply(migrateCtx, db)
		cancel()
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}

		pg := postgres.New(db)
		stores = app.Stores{
			Daemons:      pg,
			Hosted:       pg,
			Orders:       pg,
			Transactions: pg,
			Balances:     pg,
			Cursors:      pg,
		}
	} else {
		log.Warn("no database DSN configured; using in-memory stores")
	}

	clients := app.Clients{}
	if cfg.DaemonManager.BaseURL != "" {
		clients.Manager = haas.NewClient(haas.ClientConfig{
			BaseURL:  cfg.DaemonManager.BaseURL,
			Username: cfg.DaemonManager.Username,
			Password: cfg.DaemonManager.Password,
		})
	} else {
		log.Warn("no daemon manager URL configured; deploys will fail until one is set")
	}
	if cfg.Chain.RPCEndpoint != "" {
		clients.Ledger = chain.NewRPCClient(chain.RPCConfig{
			Endpoint:          cfg.Chain.RPCEndpoint,
			RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		})
	}
	if cfg.Queue.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
		})
		defer rdb.Close()
		clients.Tasks = queue.NewRedisQueue(rdb, cfg.Queue.Key)
	}

	application, err := app.New(stores, clients, app.Options{
		PlatformDomain:       cfg.Deployer.PlatformDomain,
		StartingTTL:          cfg.Jobs.StartingTTL.Std(),
		CheckDaemonsSchedule: cfg.Jobs.CheckDaemonsSchedule,
		ReconcileSchedule:    cfg.Jobs.ReconcileSchedule,
		TokenContract:        cfg.Chain.TokenContract,
		OrderTTL:             cfg.Jobs.OrderTTL.Std(),
		TransactionTTL:       cfg.Jobs.TransactionTTL.Std(),
	}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpapi.WithRequestLogging(httpapi.NewHandler(application), log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("stopped")
	return nil
}
