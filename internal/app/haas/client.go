// Package haas talks to the remote daemon manager: the HTTP control plane that
// creates, deletes and health-checks hosted daemon processes. Deployment on
// the remote side is asynchronous, so acks here only mean "accepted"; actual
// liveness is observed later through Check.
package haas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
)

// Health is the remote manager's view of a daemon process.
type Health string

const (
	HealthUp   Health = "UP"
	HealthDown Health = "DOWN"
)

// HealthReport carries the remote health state and, when up, the start time.
type HealthReport struct {
	Status    Health
	StartedAt time.Time
}

// Manager is the control-plane surface the lifecycle controller depends on.
type Manager interface {
	Start(ctx context.Context, orgID, serviceID string, cfg daemon.Config) error
	Stop(ctx context.Context, orgID, serviceID string) error
	Redeploy(ctx context.Context, orgID, serviceID string, cfg daemon.Config) error
	Check(ctx context.Context, orgID, serviceID string) (HealthReport, error)
}

// UpstreamError wraps any transport or non-2xx failure from the remote
// manager so callers can distinguish it from domain errors.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("daemon manager %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("daemon manager %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client implements Manager over HTTP with basic auth.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

var _ Manager = (*Client)(nil)

// NewClient creates a configured client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type deployRequest struct {
	OrgID     string        `json:"org_id"`
	ServiceID string        `json:"service_id"`
	Config    daemon.Config `json:"config"`
}

type checkResponse struct {
	Status    string `json:"status"`
	StartedAt string `json:"started_at,omitempty"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, target any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &UpstreamError{Op: op, Err: err}
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		return &UpstreamError{Op: op, Status: resp.StatusCode}
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Start asks the remote manager to create and launch a daemon process.
func (c *Client) Start(ctx context.Context, orgID, serviceID string, cfg daemon.Config) error {
	return c.do(ctx, "start", http.MethodPost, "/daemons", deployRequest{OrgID: orgID, ServiceID: serviceID, Config: cfg}, nil)
}

// Stop asks the remote manager to delete the daemon process.
func (c *Client) Stop(ctx context.Context, orgID, serviceID string) error {
	return c.do(ctx, "stop", http.MethodDelete, daemonPath(orgID, serviceID), nil, nil)
}

// Redeploy asks the remote manager to roll the daemon with fresh config.
// Redeploying an already-running daemon is a no-op at the remote layer.
func (c *Client) Redeploy(ctx context.Context, orgID, serviceID string, cfg daemon.Config) error {
	return c.do(ctx, "redeploy", http.MethodPut, daemonPath(orgID, serviceID), deployRequest{OrgID: orgID, ServiceID: serviceID, Config: cfg}, nil)
}

// Check reports the daemon process health.
func (c *Client) Check(ctx context.Context, orgID, serviceID string) (HealthReport, error) {
	var payload checkResponse
	if err := c.do(ctx, "check", http.MethodGet, daemonPath(orgID, serviceID)+"/health", nil, &payload); err != nil {
		return HealthReport{}, err
	}

	report := HealthReport{Status: HealthDown}
	if strings.EqualFold(payload.Status, string(HealthUp)) {
		report.Status = HealthUp
	}
	if payload.StartedAt != "" {
		if ts, err := time.Parse(time.RFC3339, payload.StartedAt); err == nil {
			report.StartedAt = ts
		}
	}
	return report, nil
}

func daemonPath(orgID, serviceID string) string {
	return "/daemons/" + orgID + "/" + serviceID
}
