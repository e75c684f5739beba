package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Bus is an in-memory Sink routing events to per-channel handler lists.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a channel. Use "*" to observe all channels.
func (b *Bus) Subscribe(channel string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[channel] = append(b.handlers[channel], handler)
}

// Emit routes an event to the handlers of its channel. With no observers
// registered anywhere this returns before building the Event value.
func (b *Bus) Emit(eventType string, payload any) {
	b.mu.RLock()
	if len(b.handlers) == 0 {
		b.mu.RUnlock()
		return
	}

	event := &Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	handlers := make([]Handler, 0, 4)
	handlers = append(handlers, b.handlers[event.Channel()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event_type", eventType).
						Interface("panic", r).
						Msg("Event handler panicked")
				}
			}()
			h(event)
		}()
	}
}

// nopSink discards all events.
type nopSink struct{}

func (nopSink) Emit(string, any) {}

// NopSink returns a sink that discards everything, for instances that opt
// out of diagnostics.
func NopSink() Sink {
	return nopSink{}
}

// The process-wide default sink. Created once, swappable, never nil.
var (
	defaultMu   sync.RWMutex
	defaultSink Sink = NewBus()
)

// Default returns the process-wide default sink.
func Default() Sink {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultSink
}

// SetDefault replaces the process-wide default sink. Passing nil installs
// the no-op sink.
func SetDefault(s Sink) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if s == nil {
		s = NopSink()
	}
	defaultSink = s
}
