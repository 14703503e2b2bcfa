package models

import "time"

// Fetch event types appended by the engine.
const (
	EventRequest      = "REQUEST"
	EventCacheHit     = "CACHE_HIT"
	EventFetchOK      = "FETCH_OK"
	EventFetchFail    = "FETCH_FAIL"
	EventStaleDiscard = "STALE_DISCARD"
	EventClear        = "CLEAR"
)

// FetchEvent is a single audit-log entry for an engine transition.
type FetchEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	City        string    `json:"city,omitempty"`
	Type        string    `json:"type"`        // REQUEST | CACHE_HIT | FETCH_OK | FETCH_FAIL | STALE_DISCARD | CLEAR
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
