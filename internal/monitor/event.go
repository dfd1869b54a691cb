package monitor

import (
	"context"
	"log/slog"
)

// EventKind categorises a camera event.
type EventKind string

const (
	EventKindMotion EventKind = "motion"
	EventKindPerson EventKind = "person"
	EventKindSound  EventKind = "sound"
	EventKindChime  EventKind = "chime"
)

// Known reports whether the kind is one the service reacts to.
func (k EventKind) Known() bool {
	switch k {
	case EventKindMotion, EventKindPerson, EventKindSound, EventKindChime:
		return true
	default:
		return false
	}
}

// Event is a single camera event as returned by the device API.
type Event struct {
	ID        string    `json:"event_id"`
	Kind      EventKind `json:"event_type"`
	Timestamp string    `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
}

// EventHandler reacts to events observed for a user. Implementations must not block for long;
// they run inline in the user's worker.
type EventHandler interface {
	HandleEvent(ctx context.Context, userID string, ev Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, userID string, ev Event)

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, userID string, ev Event) {
	f(ctx, userID, ev)
}

// LogEventHandler records every recognised event in the log and drops the rest.
type LogEventHandler struct {
	Logger *slog.Logger
}

// NewLogEventHandler creates a LogEventHandler.
func NewLogEventHandler(logger *slog.Logger) *LogEventHandler {
	return &LogEventHandler{Logger: logger}
}

// HandleEvent logs the event according to its kind.
func (h *LogEventHandler) HandleEvent(ctx context.Context, userID string, ev Event) {
	eventsDispatched.WithLabelValues(kindLabel(ev.Kind)).Inc()

	attrs := []any{"user_id", userID, "device_id", ev.DeviceID, "event_id", ev.ID, "timestamp", ev.Timestamp}
	switch ev.Kind {
	case EventKindMotion:
		h.Logger.InfoContext(ctx, "motion detected", attrs...)
	case EventKindPerson:
		h.Logger.InfoContext(ctx, "person detected", attrs...)
	case EventKindSound:
		h.Logger.InfoContext(ctx, "sound detected", attrs...)
	case EventKindChime:
		h.Logger.InfoContext(ctx, "doorbell chime", attrs...)
	default:
		h.Logger.InfoContext(ctx, "unhandled event type", append(attrs, "event_type", string(ev.Kind))...)
	}
}

func kindLabel(k EventKind) string {
	if k.Known() {
		return string(k)
	}
	return "unknown"
}
