package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	app "github.com/AgentGrid-Network/hosting_layer/internal/app"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/haas"
)

type stubManager struct{}

func (stubManager) Start(context.Context, string, string, daemon.Config) error { return nil }
func (stubManager) Stop(context.Context, string, string) error                 { return nil }
func (stubManager) Redeploy(context.Context, string, string, daemon.Config) error {
	return nil
}
func (stubManager) Check(context.Context, string, string) (haas.HealthReport, error) {
	return haas.HealthReport{Status: haas.HealthDown}, nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Clients{Manager: stubManager{}}, app.Options{}, nil)
	require.NoError(t, err)
	return NewHandler(application)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), dst))
}

func TestDeploymentEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodPost, "/deployments", map[string]any{
		"org_id":           "snet",
		"service_id":       "translator",
		"account_id":       "acct-1",
		"service_endpoint": "https://svc.internal:7000",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	var created struct {
		ID     string `json:"ID"`
		Status string `json:"Status"`
	}
	decode(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "INIT", created.Status)

	// The org/service pair is unique.
	resp = doJSON(t, handler, http.MethodPost, "/deployments", map[string]any{
		"org_id":           "snet",
		"service_id":       "translator",
		"service_endpoint": "https://other:7000",
	})
	require.Equal(t, http.StatusConflict, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/deployments?org_id=snet", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list []json.RawMessage
	decode(t, resp, &list)
	require.Len(t, list, 1)

	resp = doJSON(t, handler, http.MethodGet, "/daemons/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/daemons/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/daemons/"+created.ID+"/deploy", nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
	var deployed struct {
		Status string `json:"Status"`
	}
	decode(t, resp, &deployed)
	require.Equal(t, "READY_TO_START", deployed.Status)

	resp = doJSON(t, handler, http.MethodGet, "/deployments?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRegistryEventEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodPost, "/registry/events", map[string]any{
		"event":      "ServiceCreated",
		"org_id":     "ghost",
		"service_id": "nobody",
	})
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/registry/events", map[string]any{
		"event": "SomethingElse",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBillingEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodPost, "/orders", map[string]any{
		"account_id": "acct-1",
		"amount":     5000,
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	var order struct {
		ID     string `json:"ID"`
		Status string `json:"Status"`
	}
	decode(t, resp, &order)
	require.Equal(t, "INIT", order.Status)

	resp = doJSON(t, handler, http.MethodPost, "/orders/"+order.ID+"/transactions", map[string]any{
		"hash":      "0xabc",
		"sender":    "0xsender",
		"recipient": "0xrecipient",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var fetched struct {
		Status string `json:"Status"`
	}
	decode(t, resp, &fetched)
	require.Equal(t, "PROCESSING", fetched.Status)

	resp = doJSON(t, handler, http.MethodGet, "/transactions/0xabc", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/orders?account_id=acct-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/balances/acct-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var balance struct {
		Balance int64 `json:"Balance"`
	}
	decode(t, resp, &balance)
	require.Zero(t, balance.Balance)

	resp = doJSON(t, handler, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/orders", map[string]any{
		"account_id": "acct-1",
		"amount":     -5,
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}
