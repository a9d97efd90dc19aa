// Package config loads the hosting layer configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML documents can use "5m" style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig controls the PostgreSQL connection. An empty DSN selects the
// in-memory store (local development and tests).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ChainConfig controls the ledger client.
type ChainConfig struct {
	RPCEndpoint       string  `yaml:"rpc_endpoint"`
	TokenContract     string  `yaml:"token_contract"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DaemonManagerConfig controls the remote daemon manager client.
type DaemonManagerConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// QueueConfig controls the deploy task queue. An empty Redis address selects
// the in-process queue.
type QueueConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	Key           string `yaml:"key"`
}

// JobsConfig holds cron schedules and TTLs for the background jobs.
type JobsConfig struct {
	CheckDaemonsSchedule string   `yaml:"check_daemons_schedule"`
	ReconcileSchedule    string   `yaml:"reconcile_schedule"`
	StartingTTL          Duration `yaml:"starting_ttl"`
	OrderTTL             Duration `yaml:"order_ttl"`
	TransactionTTL       Duration `yaml:"transaction_ttl"`
}

// DeployerConfig holds controller settings.
type DeployerConfig struct {
	PlatformDomain string `yaml:"platform_domain"`
	IPFSGateway    string `yaml:"ipfs_gateway"`
}

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Chain         ChainConfig         `yaml:"chain"`
	DaemonManager DaemonManagerConfig `yaml:"daemon_manager"`
	Queue         QueueConfig         `yaml:"queue"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Deployer      DeployerConfig      `yaml:"deployer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Chain:   ChainConfig{RequestsPerSecond: 10},
		Jobs: JobsConfig{
			CheckDaemonsSchedule: "@every 1m",
			ReconcileSchedule:    "@every 2m",
			StartingTTL:          Duration(10 * time.Minute),
			OrderTTL:             Duration(24 * time.Hour),
			TransactionTTL:       Duration(24 * time.Hour),
		},
		Deployer: DeployerConfig{PlatformDomain: "daemon.hosting.agentgrid.io"},
	}
}

// Load reads the config file named by HOSTING_CONFIG (default config.yaml)
// when present, then applies environment overrides. A missing file is not an
// error; defaults apply.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("HOSTING_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Chain.RPCEndpoint, "CHAIN_RPC_ENDPOINT")
	setString(&cfg.Chain.TokenContract, "CHAIN_TOKEN_CONTRACT")
	setString(&cfg.DaemonManager.BaseURL, "DAEMON_MANAGER_URL")
	setString(&cfg.DaemonManager.Username, "DAEMON_MANAGER_USER")
	setString(&cfg.DaemonManager.Password, "DAEMON_MANAGER_PASSWORD")
	setString(&cfg.Queue.RedisAddr, "QUEUE_REDIS_ADDR")
	setString(&cfg.Queue.RedisPassword, "QUEUE_REDIS_PASSWORD")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setInt(&cfg.Server.Port, "SERVER_PORT")
}

func setString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func setInt(target *int, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}
