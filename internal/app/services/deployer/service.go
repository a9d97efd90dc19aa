// Package deployer owns the daemon lifecycle: onboarding, configuration,
// deploy/stop/redeploy requests, registry events and the periodic health
// reconciliation against the remote daemon manager.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/haas"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/metrics"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/queue"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

// Options tunes controller behavior.
type Options struct {
	// PlatformDomain is the suffix of derived daemon endpoints.
	PlatformDomain string
	// StartingTTL bounds how long a daemon may sit in STARTING/RESTARTING
	// before the health check declares the deploy stuck.
	StartingTTL time.Duration
}

// Service coordinates daemon lifecycle state.
type Service struct {
	daemons  storage.DaemonStore
	hosted   storage.HostedServiceStore
	manager  haas.Manager
	tasks    queue.TaskQueue
	resolver MetadataResolver
	opts     Options
	log      *logger.Logger
}

// New creates a configured deployer service.
func New(daemons storage.DaemonStore, hosted storage.HostedServiceStore, manager haas.Manager, tasks queue.TaskQueue, log *logger.Logger, opts Options) *Service {
	if log == nil {
		log = logger.NewDefault("deployer")
	}
	if opts.PlatformDomain == "" {
		opts.PlatformDomain = "daemon.hosting.agentgrid.io"
	}
	if opts.StartingTTL <= 0 {
		opts.StartingTTL = 10 * time.Minute
	}
	return &Service{
		daemons: daemons,
		hosted:  hosted,
		manager: manager,
		tasks:   tasks,
		opts:    opts,
		log:     log,
	}
}

// AttachMetadataResolver wires the resolver used for registry metadata URIs.
func (s *Service) AttachMetadataResolver(r MetadataResolver) {
	s.resolver = r
}

// InitiateRequest describes a first deployment for an org/service pair.
type InitiateRequest struct {
	OrgID              string
	ServiceID          string
	AccountID          string
	ServiceEndpoint    string            // "bring your own endpoint" mode
	ServiceCredentials map[string]string
	RepoURL            string // platform-hosted mode
	CommitHash         string
}

// InitiateDeployment onboards a service pair: creates the daemon in INIT and,
// for platform-hosted services, the companion hosted-service record. A second
// call for the same pair fails with storage.ErrAlreadyExists.
func (s *Service) InitiateDeployment(ctx context.Context, req InitiateRequest) (daemon.Daemon, error) {
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.OrgID == "" {
		return daemon.Daemon{}, fmt.Errorf("org_id is required")
	}
	if req.ServiceID == "" {
		return daemon.Daemon{}, fmt.Errorf("service_id is required")
	}

	hostedMode := strings.TrimSpace(req.RepoURL) != ""
	if !hostedMode && strings.TrimSpace(req.ServiceEndpoint) == "" {
		return daemon.Daemon{}, fmt.Errorf("either service_endpoint or repo_url is required")
	}

	cfg := daemon.Config{
		Mode:               daemon.ModeEndpoint,
		ServiceEndpoint:    strings.TrimSpace(req.ServiceEndpoint),
		ServiceCredentials: req.ServiceCredentials,
	}
	if hostedMode {
		cfg.Mode = daemon.ModeHosted
		cfg.ServiceEndpoint = ""
	}

	d := daemon.Daemon{
		OrgID:     req.OrgID,
		ServiceID: req.ServiceID,
		AccountID: strings.TrimSpace(req.AccountID),
		Status:    daemon.StatusInit,
		Config:    cfg,
		Endpoint:  daemon.DeriveEndpoint(s.opts.PlatformDomain, req.OrgID, req.ServiceID),
	}

	created, err := s.daemons.CreateDaemon(ctx, d)
	if err != nil {
		return daemon.Daemon{}, err
	}

	if hostedMode {
		hs := daemon.HostedService{
			DaemonID:   created.ID,
			Status:     daemon.StatusInit,
			RepoURL:    strings.TrimSpace(req.RepoURL),
			CommitHash: strings.TrimSpace(req.CommitHash),
		}
		if _, err := s.hosted.CreateHostedService(ctx, hs); err != nil {
			return daemon.Daemon{}, fmt.Errorf("create hosted service: %w", err)
		}
	}

	s.log.WithField("daemon_id", created.ID).
		WithField("org_id", created.OrgID).
		WithField("service_id", created.ServiceID).
		WithField("hosted", hostedMode).
		Info("deployment initiated")
	return created, nil
}

// SearchDeployments lists daemons matching the filter.
func (s *Service) SearchDeployments(ctx context.Context, filter storage.DaemonFilter) ([]daemon.Daemon, error) {
	return s.daemons.ListDaemons(ctx, filter)
}

// GetDaemon fetches one daemon by id.
func (s *Service) GetDaemon(ctx context.Context, id string) (daemon.Daemon, error) {
	return s.daemons.GetDaemon(ctx, id)
}

// UpdateConfig merges endpoint and credential changes into the daemon config.
// Hosted daemons derive config from their repository and are not editable;
// a daemon with a deploy in flight is locked until the deploy resolves.
func (s *Service) UpdateConfig(ctx context.Context, daemonID, serviceEndpoint string, credentials map[string]string) (daemon.Daemon, error) {
	d, err := s.daemons.GetDaemon(ctx, daemonID)
	if err != nil {
		return daemon.Daemon{}, err
	}

	if _, err := s.hosted.GetHostedServiceByDaemon(ctx, d.ID); err == nil {
		return daemon.Daemon{}, daemon.ErrConfigNotEditable
	} else if !errors.Is(err, storage.ErrNotFound) {
		return daemon.Daemon{}, err
	}

	if d.Status == daemon.StatusStarting {
		return daemon.Daemon{}, daemon.ErrConfigLocked
	}

	if endpoint := strings.TrimSpace(serviceEndpoint); endpoint != "" {
		d.Config.ServiceEndpoint = endpoint
	}
	for key, value := range credentials {
		if d.Config.ServiceCredentials == nil {
			d.Config.ServiceCredentials = make(map[string]string)
		}
		d.Config.ServiceCredentials[key] = value
	}

	updated, err := s.daemons.UpdateDaemon(ctx, d)
	if err != nil {
		return daemon.Daemon{}, err
	}

	// A running daemon picks the change up through a redeploy. The worker
	// only acts on redeploy tasks for RESTARTING daemons, so transition first.
	if updated.Status == daemon.StatusUp {
		restarted, err := s.transition(ctx, updated, daemon.StatusRestarting)
		if err != nil {
			return daemon.Daemon{}, err
		}
		if err := s.enqueue(ctx, queue.TaskRedeploy, restarted.ID); err != nil {
			return daemon.Daemon{}, fmt.Errorf("enqueue redeploy: %w", err)
		}
		updated = restarted
	}

	s.log.WithField("daemon_id", updated.ID).Info("daemon config updated")
	return updated, nil
}

// DeployDaemon requests a start. Valid from INIT (first deploy) and UP
// (idempotent restart). The start itself happens on the queue worker;
// completion is observed by the health check, not here.
func (s *Service) DeployDaemon(ctx context.Context, daemonID string) (daemon.Daemon, error) {
	d, err := s.daemons.GetDaemon(ctx, daemonID)
	if err != nil {
		return daemon.Daemon{}, err
	}

	switch d.Status {
	case daemon.StatusInit, daemon.StatusUp, daemon.StatusReadyToStart:
	default:
		return daemon.Daemon{}, fmt.Errorf("daemon %s cannot be deployed from status %s: %w", d.ID, d.Status, storage.ErrConflict)
	}

	updated, err := s.transition(ctx, d, daemon.StatusReadyToStart)
	if err != nil {
		return daemon.Daemon{}, err
	}
	if err := s.enqueue(ctx, queue.TaskStart, updated.ID); err != nil {
		return daemon.Daemon{}, fmt.Errorf("enqueue start: %w", err)
	}
	return updated, nil
}

// RedeployDaemon requests a rolling restart with current config. Also the
// explicit recovery path out of ERROR.
func (s *Service) RedeployDaemon(ctx context.Context, daemonID string) (daemon.Daemon, error) {
	d, err := s.daemons.GetDaemon(ctx, daemonID)
	if err != nil {
		return daemon.Daemon{}, err
	}

	if d.Status.InFlight() || d.Status == daemon.StatusDeleting {
		return daemon.Daemon{}, fmt.Errorf("daemon %s is busy in status %s: %w", d.ID, d.Status, storage.ErrConflict)
	}

	updated, err := s.transition(ctx, d, daemon.StatusRestarting)
	if err != nil {
		return daemon.Daemon{}, err
	}
	if err := s.enqueue(ctx, queue.TaskRedeploy, updated.ID); err != nil {
		return daemon.Daemon{}, fmt.Errorf("enqueue redeploy: %w", err)
	}
	return updated, nil
}

// StopDaemon requests a teardown of the remote daemon process.
func (s *Service) StopDaemon(ctx context.Context, daemonID string) (daemon.Daemon, error) {
	d, err := s.daemons.GetDaemon(ctx, daemonID)
	if err != nil {
		return daemon.Daemon{}, err
	}

	if d.Status == daemon.StatusDown || d.Status == daemon.StatusInit {
		return d, nil
	}

	updated, err := s.transition(ctx, d, daemon.StatusDeleting)
	if err != nil {
		return daemon.Daemon{}, err
	}
	if err := s.enqueue(ctx, queue.TaskStop, updated.ID); err != nil {
		return daemon.Daemon{}, fmt.Errorf("enqueue stop: %w", err)
	}
	return updated, nil
}

// UpdateDaemonStatus reconciles one daemon against the remote manager's
// health report and returns the refreshed record.
func (s *Service) UpdateDaemonStatus(ctx context.Context, daemonID string) (daemon.Daemon, error) {
	d, err := s.daemons.GetDaemon(ctx, daemonID)
	if err != nil {
		return daemon.Daemon{}, err
	}
	if err := s.reconcileDaemon(ctx, d); err != nil {
		return daemon.Daemon{}, err
	}
	return s.daemons.GetDaemon(ctx, daemonID)
}

// CheckDaemons reconciles every daemon with observable remote state. Daemons
// in INIT, ERROR or DOWN have nothing running remotely and are skipped.
func (s *Service) CheckDaemons(ctx context.Context) error {
	daemons, err := s.daemons.ListDaemons(ctx, storage.DaemonFilter{Statuses: []daemon.Status{
		daemon.StatusReadyToStart,
		daemon.StatusStarting,
		daemon.StatusUp,
		daemon.StatusRestarting,
		daemon.StatusDeleting,
	}})
	if err != nil {
		return fmt.Errorf("list daemons: %w", err)
	}

	for _, d := range daemons {
		if err := s.reconcileDaemon(ctx, d); err != nil {
			s.log.WithError(err).Warnf("reconcile daemon %s", d.ID)
		}
	}
	return nil
}

// reconcileDaemon is the only writer that moves a daemon out of
// STARTING/RESTARTING, because remote deployment completion can only be
// observed, never returned synchronously.
func (s *Service) reconcileDaemon(ctx context.Context, d daemon.Daemon) error {
	report, err := s.manager.Check(ctx, d.OrgID, d.ServiceID)
	if err != nil {
		metrics.ManagerFailure()
		return fmt.Errorf("health check: %w", err)
	}

	if report.Status == haas.HealthUp {
		if d.Status != daemon.StatusUp && d.Status != daemon.StatusDeleting {
			_, err := s.transition(ctx, d, daemon.StatusUp)
			return err
		}
		return nil
	}

	// Remote reports down.
	switch d.Status {
	case daemon.StatusReadyToStart:
		if err := s.enqueue(ctx, queue.TaskStart, d.ID); err != nil {
			return fmt.Errorf("enqueue start: %w", err)
		}
	case daemon.StatusStarting, daemon.StatusRestarting:
		if time.Since(d.UpdatedAt) > s.opts.StartingTTL {
			s.log.Warnf("daemon %s stuck in %s for over %s", d.ID, d.Status, s.opts.StartingTTL)
			_, err := s.transition(ctx, d, daemon.StatusError)
			return err
		}
	case daemon.StatusUp, daemon.StatusDeleting:
		if _, err := s.transition(ctx, d, daemon.StatusDown); err != nil {
			return err
		}
		if err := s.markHostedStatus(ctx, d.ID, daemon.StatusDown); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, d daemon.Daemon, to daemon.Status) (daemon.Daemon, error) {
	from := d.Status
	d.Status = to
	updated, err := s.daemons.UpdateDaemon(ctx, d)
	if err != nil {
		return daemon.Daemon{}, err
	}
	metrics.DaemonTransition(string(from), string(to))
	s.log.WithField("daemon_id", d.ID).
		WithField("from", string(from)).
		WithField("to", string(to)).
		Info("daemon status changed")
	return updated, nil
}

func (s *Service) markHostedStatus(ctx context.Context, daemonID string, status daemon.Status) error {
	hs, err := s.hosted.GetHostedServiceByDaemon(ctx, daemonID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	hs.Status = status
	_, err = s.hosted.UpdateHostedService(ctx, hs)
	return err
}

func (s *Service) enqueue(ctx context.Context, kind queue.TaskKind, daemonID string) error {
	if err := s.tasks.Enqueue(ctx, queue.Task{Kind: kind, DaemonID: daemonID}); err != nil {
		return err
	}
	if depth, err := s.tasks.Len(ctx); err == nil {
		metrics.SetQueueDepth(depth)
	}
	return nil
}
