package rpc

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/registry"
)

// Stream is the handle given to streaming methods. The first terminal call
// (End or Error) wins; every later call on the handle is a no-op, never an
// error. Chunks already sent are never retracted.
type Stream struct {
	sender Sender
	id     string

	mu         sync.Mutex
	terminated bool
	sentChunks bool
}

func newStream(sender Sender, id string) *Stream {
	return &Stream{sender: sender, id: id}
}

// Send emits one intermediate chunk. After a terminal call it is a no-op.
func (s *Stream) Send(chunk any) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.sentChunks = true
	s.mu.Unlock()

	done := false
	s.deliver(&ResponseFrame{
		Type:    registry.FrameRPC,
		ID:      s.id,
		Success: true,
		Done:    &done,
		Chunk:   chunk,
	})
}

// End terminates the stream successfully with an optional final value.
func (s *Stream) End(final any) {
	if !s.terminate() {
		return
	}

	done := true
	s.deliver(&ResponseFrame{
		Type:    registry.FrameRPC,
		ID:      s.id,
		Success: true,
		Done:    &done,
		Result:  final,
	})
}

// Error terminates the stream with a failure message.
func (s *Stream) Error(message string) {
	if !s.terminate() {
		return
	}

	s.deliver(&ResponseFrame{
		Type:    registry.FrameRPC,
		ID:      s.id,
		Success: false,
		Error:   message,
	})
}

// Terminated reports whether a terminal call has happened.
func (s *Stream) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// SentChunks reports whether any chunk went out before termination.
func (s *Stream) SentChunks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentChunks
}

// terminate claims the terminal slot, reporting whether this call won it.
func (s *Stream) terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return false
	}
	s.terminated = true
	return true
}

func (s *Stream) deliver(frame *ResponseFrame) {
	if err := s.sender.Send(frame); err != nil {
		log.Debug().Err(err).Str("rpc_id", s.id).Msg("Stream delivery failed")
	}
}
