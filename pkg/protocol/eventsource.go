package protocol

import (
	"context"
	"time"
)

// SourceEvent is one event emitted by a connected event source.
type SourceEvent struct {
	SourceID  string         `json:"source_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventFilter narrows which events a wait call accepts. Empty fields match
// everything.
type EventFilter struct {
	SourceID string `json:"source_id,omitempty"`
	Type     string `json:"type,omitempty"`
}

// EventSource is the collaborator behind the engine's event.* actions. Its
// internal transport (cron, websocket) is an implementation concern; the
// engine only depends on this wait contract.
type EventSource interface {
	// Connect opens a source of the given kind under the given id.
	Connect(ctx context.Context, kind, id string, options map[string]any) error

	// Wait blocks until an event matching filter arrives or the timeout
	// elapses, whichever comes first.
	Wait(ctx context.Context, filter EventFilter, timeout time.Duration) (*SourceEvent, error)

	// Disconnect closes the source with the given id.
	Disconnect(ctx context.Context, id string) error

	// Status reports the connection state of every open source.
	Status() map[string]string
}
