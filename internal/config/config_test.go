package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOSTING_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Jobs.CheckDaemonsSchedule != "@every 1m" {
		t.Fatalf("unexpected default schedule %q", cfg.Jobs.CheckDaemonsSchedule)
	}
	if cfg.Jobs.StartingTTL.Std() != 10*time.Minute {
		t.Fatalf("unexpected default starting TTL %s", cfg.Jobs.StartingTTL.Std())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  port: 9090
database:
  dsn: postgres://localhost/hosting
chain:
  rpc_endpoint: https://rpc.example.io
  token_contract: "0xtoken"
jobs:
  starting_ttl: 5m
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOSTING_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://localhost/hosting" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Chain.TokenContract != "0xtoken" {
		t.Fatalf("unexpected token contract %q", cfg.Chain.TokenContract)
	}
	if cfg.Jobs.StartingTTL.Std() != 5*time.Minute {
		t.Fatalf("unexpected starting TTL %s", cfg.Jobs.StartingTTL.Std())
	}
	// Unset values fall back to defaults.
	if cfg.Jobs.ReconcileSchedule != "@every 2m" {
		t.Fatalf("unexpected reconcile schedule %q", cfg.Jobs.ReconcileSchedule)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOSTING_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("DATABASE_DSN", "postgres://override/hosting")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("CHAIN_RPC_ENDPOINT", "https://rpc.override.io")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://override/hosting" {
		t.Fatalf("env override missing: %q", cfg.Database.DSN)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Chain.RPCEndpoint != "https://rpc.override.io" {
		t.Fatalf("env override missing: %q", cfg.Chain.RPCEndpoint)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("HOSTING_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("SERVER_PORT", "70000")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
