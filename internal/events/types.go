// Package events provides the diagnostic event sink for actor instances.
package events

import (
	"strings"
	"time"
)

// Channel names events are routed to, derived from the type prefix.
const (
	ChannelState    = "state"
	ChannelRPC      = "rpc"
	ChannelMessage  = "message-tool"
	ChannelSchedule = "schedule-queue"
	ChannelLife     = "lifecycle"
	ChannelWorkflow = "workflow"
	ChannelMCP      = "mcp"
)

// Event is a single diagnostic emission.
type Event struct {
	// Type is "<channel>:<action>", e.g. "rpc:error" or "schedule-queue:retry".
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel returns the routing channel for the event: the portion of Type
// before the first colon, or the whole Type when there is none.
func (e *Event) Channel() string {
	if i := strings.IndexByte(e.Type, ':'); i >= 0 {
		return e.Type[:i]
	}
	return e.Type
}

// Handler observes events on a channel.
type Handler func(event *Event)

// Sink receives diagnostic events. Emit must never block on observers and
// must be safe to call from any goroutine.
type Sink interface {
	Emit(eventType string, payload any)
}
