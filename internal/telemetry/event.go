// Package telemetry fans broadcast lifecycle and encoder progress events out
// to connected dashboard clients. A queue relays events between API replicas
// so a client is never tied to the replica running its broadcast.
package telemetry

import (
	"time"

	"litecast/internal/engine"
)

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	EventTypeLog   EventType = "log"
	EventTypeStats EventType = "stats"
)

// Event is the envelope published to the queue and written to WebSocket
// clients. Origin identifies the hub that first saw the event; hubs skip
// their own events when draining the queue to avoid double delivery.
type Event struct {
	Type       EventType          `json:"type"`
	Origin     string             `json:"origin,omitempty"`
	Log        *engine.LogEvent   `json:"log,omitempty"`
	Stats      *engine.StatsEvent `json:"stats,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// UserID returns the user the event belongs to, or empty when the envelope
// carries no payload.
func (e Event) UserID() string {
	switch {
	case e.Log != nil:
		return e.Log.UserID
	case e.Stats != nil:
		return e.Stats.UserID
	default:
		return ""
	}
}
