package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classhub/pkg/types"
)

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

// Connection wraps a websocket connection with a single writer goroutine.
// All writes funnel through writeCh so concurrent fan-out never races on
// the underlying socket, and per-connection delivery order follows send
// order.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.RWMutex
	sessionID string
}

func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// SendEvent marshals and queues one server event.
func (c *Connection) SendEvent(ev types.ServerEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.send(data)
}

// SendEnvelope delivers a fan-out envelope as its wire event.
func (c *Connection) SendEnvelope(env *types.Envelope) error {
	ev := types.ServerEvent{
		Event:     env.Event,
		RoomID:    env.RoomID,
		Data:      env,
		Timestamp: env.Timestamp,
	}
	return c.SendEvent(ev)
}

// SetSessionID binds the connection to its authenticated session.
func (c *Connection) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Done reports connection teardown to read-pump owners.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears down the writer goroutine and the socket. Safe to call
// multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
