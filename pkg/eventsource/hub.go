// Package eventsource implements the event-source collaborator behind the
// engine's event.* actions. A hub multiplexes connected sources of several
// kinds onto one event stream the engine can wait on.
package eventsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/protocol"
)

// Connection is one running source instance.
type Connection interface {
	Start(ctx context.Context, emit func(event protocol.SourceEvent)) error
	Stop() error
}

// ConnectionFactory builds a source connection of one kind.
type ConnectionFactory func(id string, options map[string]any) (Connection, error)

// backlogLimit bounds how many undelivered events the hub retains.
const backlogLimit = 256

// waiter is one pending Wait call. Its channel is buffered so delivery
// under the hub mutex never blocks; each waiter receives at most one event.
type waiter struct {
	filter protocol.EventFilter
	ch     chan protocol.SourceEvent
}

// Hub implements protocol.EventSource over pluggable connection kinds.
// Events are delivered to the first waiter whose filter matches; events
// nobody is waiting for are kept in a bounded backlog, so a waiter with a
// narrow filter never destroys events a later Wait would have matched.
type Hub struct {
	logger    *slog.Logger
	mu        sync.Mutex
	factories map[string]ConnectionFactory
	sources   map[string]Connection
	waiters   []*waiter
	backlog   []protocol.SourceEvent
}

func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:    logger.With("module", "eventsource"),
		factories: make(map[string]ConnectionFactory),
		sources:   make(map[string]Connection),
	}

	h.RegisterKind("cron", NewCronConnection)

	return h
}

// RegisterKind adds a connection factory under the given kind name.
func (h *Hub) RegisterKind(kind string, factory ConnectionFactory) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.factories[kind] = factory
}

func (h *Hub) Connect(ctx context.Context, kind, id string, options map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sources[id]; exists {
		return models.NewValidationError(fmt.Sprintf("event source %s is already connected", id))
	}

	factory, ok := h.factories[kind]
	if !ok {
		return models.NewValidationError("unknown event source kind: " + kind)
	}

	conn, err := factory(id, options)
	if err != nil {
		return fmt.Errorf("failed to create %s source %s: %w", kind, id, err)
	}

	if err := conn.Start(ctx, h.deliver); err != nil {
		return fmt.Errorf("failed to start %s source %s: %w", kind, id, err)
	}

	h.sources[id] = conn
	h.logger.Info("Connected event source", "kind", kind, "source_id", id)

	return nil
}

// deliver hands an event to the first waiter whose filter matches, or
// parks it in the backlog for a later Wait.
func (h *Hub) deliver(event protocol.SourceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, w := range h.waiters {
		if matches(w.filter, event) {
			h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
			w.ch <- event

			return
		}
	}

	if len(h.backlog) >= backlogLimit {
		h.logger.Warn("Dropping event, hub backlog full", "source_id", event.SourceID)

		return
	}

	h.backlog = append(h.backlog, event)
}

func (h *Hub) Wait(ctx context.Context, filter protocol.EventFilter, timeout time.Duration) (*protocol.SourceEvent, error) {
	h.mu.Lock()

	for i, event := range h.backlog {
		if matches(filter, event) {
			h.backlog = append(h.backlog[:i], h.backlog[i+1:]...)
			h.mu.Unlock()

			return &event, nil
		}
	}

	w := &waiter{filter: filter, ch: make(chan protocol.SourceEvent, 1)}
	h.waiters = append(h.waiters, w)
	h.mu.Unlock()

	var deadline <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		deadline = timer.C
	}

	select {
	case event := <-w.ch:
		return &event, nil

	case <-deadline:
		if event, ok := h.abandon(w); ok {
			return event, nil
		}

		return nil, &models.TimeoutError{Op: "event.wait", Timeout: timeout}

	case <-ctx.Done():
		if event, ok := h.abandon(w); ok {
			return event, nil
		}

		return nil, &models.CancellationError{}
	}
}

// abandon removes a waiter after its deadline or context fired. Delivery
// happens under the same mutex, so an event that raced the deadline is
// already sitting in the waiter's buffered channel and is returned rather
// than lost.
func (h *Hub) abandon(w *waiter) (*protocol.SourceEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, candidate := range h.waiters {
		if candidate == w {
			h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)

			break
		}
	}

	select {
	case event := <-w.ch:
		return &event, true
	default:
		return nil, false
	}
}

func (h *Hub) Disconnect(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.sources[id]
	if !ok {
		return models.NewValidationError("event source not connected: " + id)
	}

	delete(h.sources, id)

	return conn.Stop()
}

func (h *Hub) Status() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := make(map[string]string, len(h.sources))
	for id := range h.sources {
		status[id] = "connected"
	}

	return status
}

func matches(filter protocol.EventFilter, event protocol.SourceEvent) bool {
	if filter.SourceID != "" && filter.SourceID != event.SourceID {
		return false
	}

	if filter.Type != "" && filter.Type != event.Type {
		return false
	}

	return true
}
