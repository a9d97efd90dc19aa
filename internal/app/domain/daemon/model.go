// Package daemon holds the deployment-side domain model: the per-service
// daemon record, its lifecycle status, and the optional hosted-service
// companion for services whose code runs on the platform.
package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Status is the daemon lifecycle state.
type Status string

const (
	StatusInit         Status = "INIT"
	StatusReadyToStart Status = "READY_TO_START"
	StatusStarting     Status = "STARTING"
	StatusUp           Status = "UP"
	StatusRestarting   Status = "RESTARTING"
	StatusDeleting     Status = "DELETING"
	StatusDown         Status = "DOWN"
	StatusError        Status = "ERROR"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusInit, StatusReadyToStart, StatusStarting, StatusUp,
		StatusRestarting, StatusDeleting, StatusDown, StatusError:
		return true
	}
	return false
}

// InFlight reports whether a deployment is currently being carried out by the
// remote manager and completion has not been observed yet.
func (s Status) InFlight() bool {
	return s == StatusStarting || s == StatusRestarting
}

// HostingMode distinguishes daemons proxying an external endpoint from daemons
// whose service code is hosted by the platform.
type HostingMode string

const (
	ModeEndpoint HostingMode = "ENDPOINT"
	ModeHosted   HostingMode = "HOSTED"
)

// Config is the mutable daemon configuration blob. Routing fields are merged
// in from registry events; endpoint and credentials come from the owner.
type Config struct {
	Mode               HostingMode       `json:"mode"`
	ServiceEndpoint    string            `json:"service_endpoint,omitempty"`
	ServiceCredentials map[string]string `json:"service_credentials,omitempty"`
	StorageBackend     string            `json:"storage_backend,omitempty"`
	DaemonGroup        string            `json:"daemon_group,omitempty"`
	ServiceClass       string            `json:"service_class,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// Daemon is the hosted proxy/worker for one (org, service) pair. At most one
// daemon exists per pair; it is never physically deleted.
type Daemon struct {
	ID               string
	OrgID            string
	ServiceID        string
	AccountID        string
	Status           Status
	Config           Config
	Endpoint         string
	ServicePublished bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HostedService tracks platform-hosted service code attached to a daemon.
type HostedService struct {
	ID         string
	DaemonID   string
	Status     Status
	RepoURL    string
	CommitHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Typed errors surfaced on the request path.
var (
	ErrConfigLocked      = errors.New("daemon config cannot change while a deployment is in flight")
	ErrConfigNotEditable = errors.New("daemon config is derived from the hosted repository and is not editable")
)

// DeriveEndpoint computes the deterministic public endpoint for an org/service
// pair under the given platform domain.
func DeriveEndpoint(platformDomain, orgID, serviceID string) string {
	sum := sha256.Sum256([]byte(orgID + "/" + serviceID))
	return fmt.Sprintf("https://%s.%s", hex.EncodeToString(sum[:16]), platformDomain)
}
