package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter is a simple implementation of the Emitter interface that
// stores registered handlers in memory and dispatches events to them.
type InMemoryEmitter struct {
	handlers []EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates a new instance of InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		handlers: make([]EventHandler, 0),
		logger:   logger.With("component", "in_memory_emitter"),
	}
}

// Subscribe adds a new event handler to receive all subsequent events.
func (e *InMemoryEmitter) Subscribe(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// Emit publishes the given event to all registered handlers. Handlers run
// inline, in registration order.
func (e *InMemoryEmitter) Emit(ctx context.Context, event JobEvent) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	e.logger.Debug("emitting event",
		"event_id", event.ID,
		"event_type", event.Type,
		"job_id", event.JobID,
		"handler_count", len(handlers))

	for _, handler := range handlers {
		handler.HandleEvent(ctx, event)
	}
}

// Ensure InMemoryEmitter implements Emitter.
var _ Emitter = (*InMemoryEmitter)(nil)

// ChannelHandler forwards events onto a buffered channel for consumers that
// prefer reading a stream over implementing a handler. Events are dropped,
// with a log entry, when the buffer is full; a stalled consumer must not
// stall the poller.
type ChannelHandler struct {
	ch     chan JobEvent
	logger *slog.Logger
}

// NewChannelHandler creates a ChannelHandler with the given buffer size.
func NewChannelHandler(buffer int, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{
		ch:     make(chan JobEvent, buffer),
		logger: logger.With("component", "channel_handler"),
	}
}

// HandleEvent forwards the event onto the channel without blocking.
func (h *ChannelHandler) HandleEvent(ctx context.Context, event JobEvent) {
	select {
	case h.ch <- event:
	default:
		h.logger.Warn("event channel full, dropping event",
			"event_id", event.ID,
			"event_type", event.Type,
			"job_id", event.JobID)
	}
}

// Events returns the read side of the channel.
func (h *ChannelHandler) Events() <-chan JobEvent {
	return h.ch
}

// Ensure ChannelHandler implements EventHandler.
var _ EventHandler = (*ChannelHandler)(nil)
