// Package migrations applies the SQL schema for the hosting layer. Statements
// are idempotent (CREATE ... IF NOT EXISTS) and applied in order on startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS daemons (
		id                TEXT PRIMARY KEY,
		org_id            TEXT NOT NULL,
		service_id        TEXT NOT NULL,
		account_id        TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		config            JSONB NOT NULL DEFAULT '{}',
		endpoint          TEXT NOT NULL DEFAULT '',
		service_published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		CONSTRAINT daemons_org_service_unique UNIQUE (org_id, service_id)
	)`,

	`CREATE TABLE IF NOT EXISTS hosted_services (
		id          TEXT PRIMARY KEY,
		daemon_id   TEXT NOT NULL UNIQUE REFERENCES daemons(id),
		status      TEXT NOT NULL,
		repo_url    TEXT NOT NULL DEFAULT '',
		commit_hash TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		daemon_id  TEXT NOT NULL DEFAULT '',
		amount     BIGINT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS evm_transactions (
		hash       TEXT PRIMARY KEY,
		order_id   TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL,
		sender     TEXT NOT NULL DEFAULT '',
		recipient  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS account_balances (
		account_id TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS transactions_metadata (
		recipient        TEXT PRIMARY KEY,
		last_block_no    BIGINT NOT NULL DEFAULT 0,
		fetch_limit      BIGINT NOT NULL DEFAULT 1000,
		block_adjustment BIGINT NOT NULL DEFAULT 12,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status, updated_at)`,

	`CREATE INDEX IF NOT EXISTS evm_transactions_order_idx ON evm_transactions (order_id)`,
}

// Apply executes every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Count reports the number of schema statements, used by tests.
func Count() int { return len(statements) }
