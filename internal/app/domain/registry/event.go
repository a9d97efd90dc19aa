// Package registry models on-chain service registry events as delivered by the
// off-chain indexer. Delivery is at-least-once and not guaranteed ordered.
package registry

import (
	"fmt"
	"strings"
)

// EventKind enumerates the registry event types the platform reacts to.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventServiceCreated
	EventServiceMetadataModified
	EventServiceDeleted
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventServiceCreated:
		return "ServiceCreated"
	case EventServiceMetadataModified:
		return "ServiceMetadataModified"
	case EventServiceDeleted:
		return "ServiceDeleted"
	default:
		return "Unknown"
	}
}

// ParseEventKind maps a wire event name to its kind.
func ParseEventKind(name string) (EventKind, error) {
	switch strings.TrimSpace(name) {
	case "ServiceCreated":
		return EventServiceCreated, nil
	case "ServiceMetadataModified":
		return EventServiceMetadataModified, nil
	case "ServiceDeleted":
		return EventServiceDeleted, nil
	default:
		return EventUnknown, fmt.Errorf("unknown registry event %q", name)
	}
}

// Event is one registry message for an org/service pair. MetadataURI points at
// the published service metadata archive, when the event carries one.
type Event struct {
	Kind        EventKind
	OrgID       string
	ServiceID   string
	MetadataURI string
}
