package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventPermissionUpdate EventType = "permission.update"
	EventFeatureLoaded    EventType = "feature.loaded"
	EventSweepCompleted   EventType = "permission.sweep.completed"
)

// BroadcastPermissionUpdate is the wire type carried by EventPermissionUpdate payloads.
const BroadcastPermissionUpdate = "permissionUpdate"

// PermissionUpdate is the broadcast emitted on every cache-level transition.
type PermissionUpdate struct {
	Type       string         `json:"type"`
	Permission PermissionName `json:"permission"`
	Value      bool           `json:"value"`
	Msg        string         `json:"msg"`
}

// Event is the envelope published on the event bus.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for host events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
