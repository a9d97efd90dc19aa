// Package httpapi exposes the hosting layer over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/AgentGrid-Network/hosting_layer/internal/app"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/registry"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/metrics"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/services/deployer"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	r := mux.NewRouter()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/deployments", h.initiateDeployment).Methods(http.MethodPost)
	r.HandleFunc("/deployments", h.searchDeployments).Methods(http.MethodGet)

	r.HandleFunc("/daemons/{id}", h.getDaemon).Methods(http.MethodGet)
	r.HandleFunc("/daemons/{id}/config", h.updateConfig).Methods(http.MethodPut)
	r.HandleFunc("/daemons/{id}/deploy", h.deployDaemon).Methods(http.MethodPost)
	r.HandleFunc("/daemons/{id}/redeploy", h.redeployDaemon).Methods(http.MethodPost)
	r.HandleFunc("/daemons/{id}/stop", h.stopDaemon).Methods(http.MethodPost)
	r.HandleFunc("/daemons/{id}/status", h.updateDaemonStatus).Methods(http.MethodPost)

	r.HandleFunc("/registry/events", h.registryEvent).Methods(http.MethodPost)

	r.HandleFunc("/orders", h.createOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", h.getOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/transactions", h.saveTransaction).Methods(http.MethodPost)

	r.HandleFunc("/transactions/{hash}", h.getTransaction).Methods(http.MethodGet)

	r.HandleFunc("/balances/{account_id}", h.getBalance).Methods(http.MethodGet)
	r.HandleFunc("/balances/{account_id}/debit", h.debitBalance).Methods(http.MethodPost)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) initiateDeployment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OrgID              string            `json:"org_id"`
		ServiceID          string            `json:"service_id"`
		AccountID          string            `json:"account_id"`
		ServiceEndpoint    string            `json:"service_endpoint"`
		ServiceCredentials map[string]string `json:"service_credentials"`
		RepoURL            string            `json:"repo_url"`
		CommitHash         string            `json:"commit_hash"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := h.app.Deployer.InitiateDeployment(r.Context(), deployer.InitiateRequest{
		OrgID:              payload.OrgID,
		ServiceID:          payload.ServiceID,
		AccountID:          payload.AccountID,
		ServiceEndpoint:    payload.ServiceEndpoint,
		ServiceCredentials: payload.ServiceCredentials,
		RepoURL:            payload.RepoURL,
		CommitHash:         payload.CommitHash,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *handler) searchDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.DaemonFilter{
		OrgID:     q.Get("org_id"),
		ServiceID: q.Get("service_id"),
		AccountID: q.Get("account_id"),
	}
	for _, raw := range q["status"] {
		status := daemon.Status(strings.ToUpper(strings.TrimSpace(raw)))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", raw))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	daemons, err := h.app.Deployer.SearchDeployments(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daemons)
}

func (h *handler) getDaemon(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Deployer.GetDaemon(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ServiceEndpoint    string            `json:"service_endpoint"`
		ServiceCredentials map[string]string `json:"service_credentials"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := h.app.Deployer.UpdateConfig(r.Context(), mux.Vars(r)["id"], payload.ServiceEndpoint, payload.ServiceCredentials)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) deployDaemon(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Deployer.DeployDaemon(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (h *handler) redeployDaemon(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Deployer.RedeployDaemon(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (h *handler) stopDaemon(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Deployer.StopDaemon(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (h *handler) updateDaemonStatus(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Deployer.UpdateDaemonStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) registryEvent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Event       string `json:"event"`
		OrgID       string `json:"org_id"`
		ServiceID   string `json:"service_id"`
		MetadataURI string `json:"metadata_uri"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kind, err := registry.ParseEventKind(payload.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.app.Deployer.ProcessRegistryEvent(r.Context(), registry.Event{
		Kind:        kind,
		OrgID:       payload.OrgID,
		ServiceID:   payload.ServiceID,
		MetadataURI: payload.MetadataURI,
	}); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AccountID string `json:"account_id"`
		DaemonID  string `json:"daemon_id"`
		Amount    int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := h.app.Billing.CreateOrder(r.Context(), payload.AccountID, payload.DaemonID, payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("account_id is required"))
		return
	}
	orders, err := h.app.Billing.ListOrders(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.app.Billing.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handler) saveTransaction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Hash      string `json:"hash"`
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.app.Billing.SaveEVMTransaction(r.Context(), payload.Hash, mux.Vars(r)["id"], payload.Sender, payload.Recipient)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Billing.GetTransaction(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) getBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.app.Billing.GetBalance(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (h *handler) debitBalance(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bal, err := h.app.Billing.DebitUsage(r.Context(), mux.Vars(r)["account_id"], payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// writeServiceError maps service and storage errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, daemon.ErrConfigLocked),
		errors.Is(err, daemon.ErrConfigNotEditable):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
