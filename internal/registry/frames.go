// Package registry tracks the live client connections of one actor
// instance: their sockets, their durable envelopes (ephemeral state plus
// the read-only flag), and broadcast fan-out.
package registry

import "encoding/json"

// FrameType identifies a wire frame.
type FrameType string

const (
	FrameIdentity       FrameType = "identity"
	FrameState          FrameType = "state"
	FrameStateError     FrameType = "state_error"
	FrameRPC            FrameType = "rpc"
	FrameOutboundStatus FrameType = "mcp_servers"
	FrameError          FrameType = "error"
)

// IdentityFrame is the first frame sent on a successful handshake.
type IdentityFrame struct {
	Type FrameType `json:"type"`
	Name string    `json:"name"`
}

// StateFrame carries the actor state, server-to-client on handshake and
// broadcast, client-to-server to request a mutation.
type StateFrame struct {
	Type   FrameType       `json:"type"`
	State  json.RawMessage `json:"state"`
	Source string          `json:"source,omitempty"`
}

// StateErrorFrame is sent only to the connection whose update was refused.
type StateErrorFrame struct {
	Type  FrameType `json:"type"`
	Error string    `json:"error"`
}

// ErrorFrame reports malformed or unroutable inbound frames.
type ErrorFrame struct {
	Type  FrameType `json:"type"`
	Error string    `json:"error"`
}
