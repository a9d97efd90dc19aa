package deployer

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/registry"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/queue"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/storage"
)

// MetadataResolver fetches the published service metadata document referenced
// by a registry event.
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) ([]byte, error)
}

// routingMetadata is what a metadata document contributes to daemon config.
type routingMetadata struct {
	daemonGroup  string
	serviceClass string
}

// parseRoutingMetadata extracts routing fields from a service metadata
// document. Both fields are optional; a malformed document yields an error
// and must not corrupt existing config.
func parseRoutingMetadata(doc []byte) (routingMetadata, error) {
	if !gjson.ValidBytes(doc) {
		return routingMetadata{}, fmt.Errorf("metadata document is not valid JSON")
	}
	parsed := gjson.ParseBytes(doc)
	return routingMetadata{
		daemonGroup:  parsed.Get("groups.0.group_name").String(),
		serviceClass: parsed.Get("service_api_source.package").String(),
	}, nil
}

// ProcessRegistryEvent dispatches one registry event through the handler map.
// Events for services never onboarded to hosting are a no-op. Handlers are
// idempotent per event kind; delivery is at-least-once and may be unordered.
func (s *Service) ProcessRegistryEvent(ctx context.Context, ev registry.Event) error {
	handlers := map[registry.EventKind]func(context.Context, registry.Event) error{
		registry.EventServiceCreated:          s.handleServicePublished,
		registry.EventServiceMetadataModified: s.handleServicePublished,
		registry.EventServiceDeleted:          s.handleServiceDeleted,
	}

	handler, ok := handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("no handler for registry event %s", ev.Kind)
	}
	return handler(ctx, ev)
}

// handleServicePublished reacts to ServiceCreated and ServiceMetadataModified:
// merge routing metadata into the daemon config, mark the service published,
// and roll a running daemon so the change takes effect.
func (s *Service) handleServicePublished(ctx context.Context, ev registry.Event) error {
	d, err := s.daemons.GetDaemonByService(ctx, ev.OrgID, ev.ServiceID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Debugf("registry event %s for unhosted service %s/%s ignored", ev.Kind, ev.OrgID, ev.ServiceID)
		return nil
	}
	if err != nil {
		return err
	}

	if s.resolver != nil && ev.MetadataURI != "" {
		if doc, err := s.resolver.Resolve(ctx, ev.MetadataURI); err != nil {
			s.log.WithError(err).Warnf("resolve metadata %s for daemon %s", ev.MetadataURI, d.ID)
		} else if meta, err := parseRoutingMetadata(doc); err != nil {
			s.log.WithError(err).Warnf("parse metadata %s for daemon %s", ev.MetadataURI, d.ID)
		} else {
			if meta.daemonGroup != "" {
				d.Config.DaemonGroup = meta.daemonGroup
			}
			if meta.serviceClass != "" {
				d.Config.ServiceClass = meta.serviceClass
			}
		}
	}

	d.ServicePublished = true
	updated, err := s.daemons.UpdateDaemon(ctx, d)
	if err != nil {
		return err
	}

	if updated.Status == daemon.StatusUp {
		if err := s.enqueueRedeployAfterPublish(ctx, updated); err != nil {
			s.log.WithError(err).Warnf("enqueue redeploy for daemon %s after registry event", updated.ID)
		}
	}

	s.log.WithField("daemon_id", updated.ID).
		WithField("event", ev.Kind.String()).
		Info("registry metadata applied")
	return nil
}

func (s *Service) enqueueRedeployAfterPublish(ctx context.Context, d daemon.Daemon) error {
	if _, err := s.transition(ctx, d, daemon.StatusRestarting); err != nil {
		return err
	}
	return s.enqueue(ctx, queue.TaskRedeploy, d.ID)
}

// handleServiceDeleted unpublishes the service and tears down the remote
// daemon if one is running.
func (s *Service) handleServiceDeleted(ctx context.Context, ev registry.Event) error {
	d, err := s.daemons.GetDaemonByService(ctx, ev.OrgID, ev.ServiceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	d.ServicePublished = false

	if d.Status == daemon.StatusUp {
		if err := s.manager.Stop(ctx, d.OrgID, d.ServiceID); err != nil {
			// Leave status as-is; the next health check observes the outcome.
			s.log.WithError(err).Warnf("stop remote daemon %s after registry delete", d.ID)
			_, updateErr := s.daemons.UpdateDaemon(ctx, d)
			return updateErr
		}
		d.Status = daemon.StatusDown
	}

	updated, err := s.daemons.UpdateDaemon(ctx, d)
	if err != nil {
		return err
	}
	if updated.Status == daemon.StatusDown {
		if err := s.markHostedStatus(ctx, updated.ID, daemon.StatusDown); err != nil {
			return err
		}
	}

	s.log.WithField("daemon_id", updated.ID).Info("service unpublished")
	return nil
}
