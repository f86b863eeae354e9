// Package sse implements Server-Sent Events subscriptions: a client names a
// root and receives each batch of changes as it is journaled.
package sse

import (
	"time"

	"github.com/treewatch/treewatch/internal/dto"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventSubscribed is the first event of every stream.
	EventSubscribed EventType = "subscribed"
	// EventChanges carries a since result relative to the previous event.
	EventChanges EventType = "changes"
	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
	// EventCancelled ends the stream: the root was unwatched or failed, or
	// the daemon is shutting down.
	EventCancelled EventType = "cancelled"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// SubscribedEventData is the data payload for subscribed events.
type SubscribedEventData struct {
	Subscription string `json:"subscription"`
	Root         string `json:"root"`
	Clock        string `json:"clock"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// CancelledEventData is the data payload for cancelled events.
type CancelledEventData struct {
	Reason string `json:"reason"`
}

// NewSubscribedEvent creates a subscribed event.
func NewSubscribedEvent(subscription, root, clock string) Event {
	return Event{
		Type: EventSubscribed,
		Data: SubscribedEventData{
			Subscription: subscription,
			Root:         root,
			Clock:        clock,
		},
		Timestamp: time.Now(),
	}
}

// NewChangesEvent creates a changes event.
func NewChangesEvent(result dto.SinceResult) Event {
	return Event{
		Type:      EventChanges,
		Data:      result,
		Timestamp: time.Now(),
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	return Event{
		Type: EventHeartbeat,
		Data: HeartbeatEventData{
			ServerTime: time.Now(),
		},
		Timestamp: time.Now(),
	}
}

// NewCancelledEvent creates a cancelled event.
func NewCancelledEvent(reason string) Event {
	return Event{
		Type:      EventCancelled,
		Data:      CancelledEventData{Reason: reason},
		Timestamp: time.Now(),
	}
}
