package domain

import (
	"encoding/json"
	"time"
)

// Event is one unsolicited message pushed by the browser.
type Event struct {
	Domain       Domain          `json:"domain"`
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	ConnectionID string          `json:"connectionId,omitempty"`
}

// NewEvent builds an Event from a protocol method and its raw params.
// Domain is empty when the method's namespace is not managed.
func NewEvent(method string, params json.RawMessage, connID string) Event {
	d, ok := FromMethod(method)
	if !ok {
		d = ""
	}
	return Event{Domain: d, Method: method, Params: params, Timestamp: time.Now().UTC(), ConnectionID: connID}
}

// EventStats is a snapshot of the event store counters.
type EventStats struct {
	Received      int64          `json:"received"`
	Stored        int64          `json:"stored"`
	Filtered      int64          `json:"filtered"`
	SharedDropped int64          `json:"sharedDropped"`
	InboxDropped  int64          `json:"inboxDropped"`
	SharedQueued  int            `json:"sharedQueued"`
	SharedCap     int            `json:"sharedCapacity"`
	PerDomain     map[Domain]int `json:"perDomain"`
}
