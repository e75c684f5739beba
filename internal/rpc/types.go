// Package rpc resolves invocation frames to explicitly published methods
// and executes them unary or as a chunked stream.
package rpc

import (
	"context"
	"encoding/json"

	"github.com/burrowlabs/burrow/internal/registry"
)

// Sender delivers frames back to the caller. *registry.Conn satisfies it.
type Sender interface {
	Send(frame any) error
}

// RequestFrame is an inbound invocation.
type RequestFrame struct {
	Type   registry.FrameType `json:"type"`
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Args   []json.RawMessage  `json:"args"`
}

// ResponseFrame carries a result, an error, or one stream chunk.
type ResponseFrame struct {
	Type    registry.FrameType `json:"type"`
	ID      string             `json:"id"`
	Success bool               `json:"success"`
	Done    *bool              `json:"done,omitempty"`
	Result  any                `json:"result,omitempty"`
	Chunk   any                `json:"chunk,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Call is one invocation's context: the caller and the raw arguments.
type Call struct {
	Conn Sender
	Args []json.RawMessage
}

// Arg unmarshals the i-th argument into v.
func (c *Call) Arg(i int, v any) error {
	if i >= len(c.Args) {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(c.Args[i], v)
}

// UnaryHandler is a method returning a single result.
type UnaryHandler func(ctx context.Context, call *Call) (any, error)

// StreamHandler is a method writing chunks to a stream handle.
type StreamHandler func(ctx context.Context, call *Call, stream *Stream) error

// Method is one published method. Exactly one of Unary or Stream is set.
type Method struct {
	Unary  UnaryHandler
	Stream StreamHandler
}

// MethodSet publishes methods by name. Only names present in a set are
// invocable; everything else is unreachable and produces a rejection.
type MethodSet map[string]Method
