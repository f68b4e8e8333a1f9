package engine

import "time"

// EventKind labels a telemetry log event.
type EventKind string

const (
	EventStart EventKind = "start"
	EventEnd   EventKind = "end"
	EventError EventKind = "error"
	EventInfo  EventKind = "info"
	EventDebug EventKind = "debug"
)

// LogEvent is a human-readable lifecycle event emitted by a broadcast session.
type LogEvent struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsEvent carries throttled encoder progress for dashboards.
type StatsEvent struct {
	SessionID             string    `json:"sessionId"`
	UserID                string    `json:"userId"`
	ElapsedTimemark       string    `json:"elapsedTimemark"`
	BitrateKbps           float64   `json:"bitrateKbps"`
	UsageRemainingSeconds int64     `json:"usageRemainingSeconds"`
	Timestamp             time.Time `json:"timestamp"`
}

// Sink receives telemetry from the engine. Implementations must not block:
// events are emitted from session goroutines and a stalled sink would stall
// progress handling.
type Sink interface {
	Log(event LogEvent)
	Stats(event StatsEvent)
}

// NopSink discards all telemetry.
type NopSink struct{}

func (NopSink) Log(LogEvent)     {}
func (NopSink) Stats(StatsEvent) {}
