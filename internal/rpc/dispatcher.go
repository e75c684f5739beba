package rpc

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/events"
	"github.com/burrowlabs/burrow/internal/metrics"
	"github.com/burrowlabs/burrow/internal/registry"
)

// Dispatcher resolves invocation frames against a flat method map built once
// at construction from the capability chain.
type Dispatcher struct {
	methods map[string]Method
	sink    events.Sink
}

// NewDispatcher flattens the capability chain, base-first, into a method
// registry: when a name appears more than once the most-derived (last)
// declaration wins.
func NewDispatcher(sink events.Sink, chain ...MethodSet) *Dispatcher {
	if sink == nil {
		sink = events.Default()
	}

	methods := make(map[string]Method)
	for _, set := range chain {
		for name, method := range set {
			methods[name] = method
		}
	}

	return &Dispatcher{
		methods: methods,
		sink:    sink,
	}
}

// Methods returns the published method names.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	return names
}

// Dispatch executes one invocation and writes the response frames to the
// caller. Every invocation emits a diagnostic; failures emit a distinct
// error diagnostic carrying the method name and error text.
func (d *Dispatcher) Dispatch(ctx context.Context, sender Sender, req *RequestFrame) {
	metrics.RPCInvocationsTotal.WithLabelValues(req.Method).Inc()
	d.sink.Emit("rpc:request", map[string]any{
		"rpc_id": req.ID,
		"method": req.Method,
	})

	method, ok := d.methods[req.Method]
	if !ok {
		d.fail(sender, req, fmt.Sprintf("method not found: %s", req.Method))
		return
	}

	call := &Call{Conn: sender, Args: req.Args}

	if method.Stream != nil {
		d.dispatchStream(ctx, sender, req, method.Stream, call)
		return
	}

	result, err := d.runUnary(ctx, method.Unary, call)
	if err != nil {
		d.fail(sender, req, err.Error())
		return
	}

	d.send(sender, &ResponseFrame{
		Type:    registry.FrameRPC,
		ID:      req.ID,
		Success: true,
		Result:  result,
	})
}

func (d *Dispatcher) dispatchStream(ctx context.Context, sender Sender, req *RequestFrame, handler StreamHandler, call *Call) {
	stream := newStream(sender, req.ID)

	err := d.runStream(ctx, handler, call, stream)
	if err != nil {
		// A failure before any terminal call surfaces to the caller; the
		// chunks already sent stay sent. After a terminal call the stream
		// outcome is already decided and the error is only reported.
		if !stream.Terminated() {
			d.fail(sender, req, err.Error())
			stream.terminate()
			return
		}
		d.emitError(req.Method, err.Error())
		return
	}

	// A handler returning without a terminal call ends the stream cleanly.
	stream.End(nil)
}

func (d *Dispatcher) runUnary(ctx context.Context, handler UnaryHandler, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("method panicked: %v", r)
		}
	}()
	return handler(ctx, call)
}

func (d *Dispatcher) runStream(ctx context.Context, handler StreamHandler, call *Call, stream *Stream) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("method panicked: %v", r)
		}
	}()
	return handler(ctx, call, stream)
}

func (d *Dispatcher) fail(sender Sender, req *RequestFrame, message string) {
	d.emitError(req.Method, message)
	d.send(sender, &ResponseFrame{
		Type:    registry.FrameRPC,
		ID:      req.ID,
		Success: false,
		Error:   message,
	})
}

func (d *Dispatcher) emitError(method, message string) {
	metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
	d.sink.Emit("rpc:error", map[string]any{
		"method": method,
		"error":  message,
	})
}

func (d *Dispatcher) send(sender Sender, frame *ResponseFrame) {
	if err := sender.Send(frame); err != nil {
		log.Debug().Err(err).Str("rpc_id", frame.ID).Msg("RPC response delivery failed")
	}
}
