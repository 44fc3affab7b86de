// Package audit provides a best-effort, async audit trail of registry and
// notification events: hosts added/removed, manual DEFUNCT marks from the
// control protocol, and NOPING emissions. EventStatusTransition is defined
// but the daemon does not emit it, so state-machine transitions (including
// automatic moves to DEFUNCT) are not recorded. It is purely
// observational — nothing in the daemon's event loop blocks on it, and a
// dropped or failed audit write never affects control-protocol behavior or
// probing. There is no replay or recovery of host state from this trail;
// that remains out of scope, same as for the in-memory registry itself.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit record.
type EventType string

const (
	EventAdd              EventType = "add"
	EventRemove           EventType = "remove"
	EventMarkDefunct      EventType = "mark_defunct"
	EventStatusTransition EventType = "status_transition"
	EventNoping           EventType = "noping"
)

// Event is one audit record. Detail carries type-specific fields (e.g. the
// old/new status for a transition) as a small flat map so the schema
// doesn't need a column per event type.
type Event struct {
	ID       uuid.UUID
	Time     time.Time
	Type     EventType
	HostID   uint64
	HostName string
	Detail   map[string]string
}

// NewEvent stamps a new Event with a fresh ID and the current time.
func NewEvent(typ EventType, hostID uint64, hostName string, detail map[string]string) Event {
	return Event{
		ID:       uuid.New(),
		Time:     time.Now(),
		Type:     typ,
		HostID:   hostID,
		HostName: hostName,
		Detail:   detail,
	}
}
