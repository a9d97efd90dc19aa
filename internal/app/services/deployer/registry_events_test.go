package deployer

import (
	"context"
	"testing"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/registry"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/queue"
)

type staticResolver struct {
	doc []byte
	err error
}

func (r staticResolver) Resolve(context.Context, string) ([]byte, error) {
	return r.doc, r.err
}

func TestProcessRegistryEventUnhostedServiceIgnored(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})

	err := svc.ProcessRegistryEvent(context.Background(), registry.Event{
		Kind:      registry.EventServiceCreated,
		OrgID:     "ghost",
		ServiceID: "nobody",
	})
	if err != nil {
		t.Fatalf("expected no-op for unhosted service, got %v", err)
	}
}

func TestProcessRegistryEventMergesRoutingMetadata(t *testing.T) {
	svc, store, _, _ := newTestService(t, Options{})
	svc.AttachMetadataResolver(staticResolver{doc: []byte(`{
		"groups": [{"group_name": "default_group"}],
		"service_api_source": {"package": "translation"}
	}`)})

	d := mustInitiate(t, svc, "snet", "translator")

	err := svc.ProcessRegistryEvent(context.Background(), registry.Event{
		Kind:        registry.EventServiceMetadataModified,
		OrgID:       "snet",
		ServiceID:   "translator",
		MetadataURI: "ipfs://QmMeta",
	})
	if err != nil {
		t.Fatalf("process event: %v", err)
	}

	got, _ := store.GetDaemon(context.Background(), d.ID)
	if !got.ServicePublished {
		t.Fatal("expected service to be marked published")
	}
	if got.Config.DaemonGroup != "default_group" {
		t.Fatalf("daemon group not merged: %+v", got.Config)
	}
	if got.Config.ServiceClass != "translation" {
		t.Fatalf("service class not merged: %+v", got.Config)
	}
}

func TestProcessRegistryEventMalformedMetadataKeepsConfig(t *testing.T) {
	svc, store, _, _ := newTestService(t, Options{})
	svc.AttachMetadataResolver(staticResolver{doc: []byte(`{not json`)})

	d := mustInitiate(t, svc, "snet", "translator")
	d.Config.DaemonGroup = "existing_group"
	if _, err := store.UpdateDaemon(context.Background(), d); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	err := svc.ProcessRegistryEvent(context.Background(), registry.Event{
		Kind:        registry.EventServiceCreated,
		OrgID:       "snet",
		ServiceID:   "translator",
		MetadataURI: "ipfs://QmBroken",
	})
	if err != nil {
		t.Fatalf("process event: %v", err)
	}

	got, _ := store.GetDaemon(context.Background(), d.ID)
	if got.Config.DaemonGroup != "existing_group" {
		t.Fatalf("config corrupted by malformed metadata: %+v", got.Config)
	}
	if !got.ServicePublished {
		t.Fatal("expected service still marked published")
	}
}

func TestProcessRegistryEventRollsRunningDaemon(t *testing.T) {
	svc, store, _, tasks := newTestService(t, Options{})

	d := mustInitiate(t, svc, "snet", "translator")
	d.Status = daemon.StatusUp
	if _, err := store.UpdateDaemon(context.Background(), d); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	err := svc.ProcessRegistryEvent(context.Background(), registry.Event{
		Kind:      registry.EventServiceMetadataModified,
		OrgID:     "snet",
		ServiceID: "translator",
	})
	if err != nil {
		t.Fatalf("process event: %v", err)
	}

	got, _ := store.GetDaemon(context.Background(), d.ID)
	if got.Status != daemon.StatusRestarting {
		t.Fatalf("expected RESTARTING after publish, got %s", got.Status)
	}
	if task := drainTask(t, tasks); task.Kind != queue.TaskRedeploy {
		t.Fatalf("expected redeploy task, got %+v", task)
	}
}

func TestProcessRegistryEventServiceDeleted(t *testing.T) {
	svc, store, manager, _ := newTestService(t, Options{})

	d := mustInitiate(t, svc, "snet", "translator")
	d.Status = daemon.StatusUp
	d.ServicePublished = true
	if _, err := store.UpdateDaemon(context.Background(), d); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	err := svc.ProcessRegistryEvent(context.Background(), registry.Event{
		Kind:      registry.EventServiceDeleted,
		OrgID:     "snet",
		ServiceID: "translator",
	})
	if err != nil {
		t.Fatalf("process delete: %v", err)
	}

	if manager.stops != 1 {
		t.Fatalf("expected one remote stop, got %d", manager.stops)
	}
	got, _ := store.GetDaemon(context.Background(), d.ID)
	if got.Status != daemon.StatusDown {
		t.Fatalf("expected DOWN after delete, got %s", got.Status)
	}
	if got.ServicePublished {
		t.Fatal("expected service unpublished")
	}
}

func TestProcessRegistryEventServiceDeletedStopFailure(t *testing.T) {
	svc, store, manager, _ := newTestService(t, Options{})
	manager.stopErr = context.DeadlineExceeded

	d := mustInitiate(t, svc, "snet", "translator")
	d.Status = daemon.StatusUp
	d.ServicePublished = true
	if _, err := store.UpdateDaemon(context.Background(), d); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	err := svc.ProcessRegistryEvent(context.Background(), registry.Event{
		Kind:      registry.EventServiceDeleted,
		OrgID:     "snet",
		ServiceID: "translator",
	})
	if err != nil {
		t.Fatalf("process delete: %v", err)
	}

	// Status is left for the health check to resolve, but the unpublish
	// still lands.
	got, _ := store.GetDaemon(context.Background(), d.ID)
	if got.Status != daemon.StatusUp {
		t.Fatalf("expected UP preserved after failed stop, got %s", got.Status)
	}
	if got.ServicePublished {
		t.Fatal("expected service unpublished despite failed stop")
	}
}

func TestProcessRegistryEventUnknownKind(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})

	err := svc.ProcessRegistryEvent(context.Background(), registry.Event{Kind: registry.EventUnknown})
	if err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}

func TestParseRoutingMetadata(t *testing.T) {
	meta, err := parseRoutingMetadata([]byte(`{"groups":[{"group_name":"g1"}],"service_api_source":{"package":"nlp"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.daemonGroup != "g1" || meta.serviceClass != "nlp" {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	if _, err := parseRoutingMetadata([]byte(`{{`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}

	empty, err := parseRoutingMetadata([]byte(`{}`))
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if empty.daemonGroup != "" || empty.serviceClass != "" {
		t.Fatalf("expected empty metadata, got %+v", empty)
	}
}
