package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongTimeout    = 60 * time.Second
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// FrameHandler processes one inbound message from a connection.
type FrameHandler func(conn *Conn, data []byte)

// Conn is the disposable in-process wrapper around one client socket. The
// socket (identified by Conn.ID across reattachments) is the durable
// identity; the wrapper is reconstructed on demand and re-derives its
// envelope from storage.
type Conn struct {
	ID string

	sock   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	envelope Envelope
}

// NewConn wraps a socket. Pass an empty id for a fresh connection; a known
// id reattaches to that connection's persisted envelope when added to a
// registry.
func NewConn(id string, sock *websocket.Conn) *Conn {
	if id == "" {
		id = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:     id,
		sock:   sock,
		sendCh: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the write and ping pumps and reads inbound messages until the
// socket closes, passing each to handler.
func (c *Conn) Run(handler FrameHandler) {
	go c.writePump()
	go c.pingPump()
	c.readPump(handler)
}

// Close terminates the connection.
func (c *Conn) Close() {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
		close(c.done)
	}
	c.mu.Unlock()

	c.cancel()
	if c.sock != nil {
		c.sock.Close(websocket.StatusNormalClosure, "closing")
	}
}

// Send queues a JSON frame to the client.
func (c *Conn) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return context.Canceled
	default:
		log.Warn().Str("conn_id", c.ID).Msg("Connection send buffer full, dropping frame")
		return nil
	}
}

// Done is closed when the connection terminates.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// snapshotEnvelope returns a copy of the current envelope.
func (c *Conn) snapshotEnvelope() Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.envelope
}

// setEnvelope replaces the in-memory envelope (used on reattach).
func (c *Conn) setEnvelope(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelope = env
}

// State returns the user-visible portion of the envelope.
func (c *Conn) State() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.envelope.State
}

// ReadOnly reports the internal read-only flag.
func (c *Conn) ReadOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.envelope.ReadOnly
}

func (c *Conn) readPump(handler FrameHandler) {
	defer c.Close()

	if c.sock == nil {
		<-c.done
		return
	}

	c.sock.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.sock.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("WebSocket read error")
			}
			return
		}

		handler(c, data)
	}
}

func (c *Conn) writePump() {
	if c.sock == nil {
		return
	}

	for {
		select {
		case data := <-c.sendCh:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.sock.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) pingPump() {
	if c.sock == nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, pongTimeout)
			err := c.sock.Ping(ctx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("Ping failed")
				c.Close()
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}
