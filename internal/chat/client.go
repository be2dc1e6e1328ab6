package chat

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// ConnLike is the slice of a websocket connection the core needs. Tests
// substitute in-memory fakes.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Client owns the outbound side of one transport connection: a buffered
// send queue drained by a single writer goroutine. Enqueue never blocks;
// a full queue is reported to the caller so the connection can be dropped
// instead of stalling fan-out to the rest of the room.
type Client struct {
	conn ConnLike
	send chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newClient(conn ConnLike, queueSize int) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, queueSize),
	}
}

// Enqueue queues a frame for delivery. It returns false when the client is
// already closed or its queue is full; the caller decides what to do with
// the straggler.
func (c *Client) Enqueue(data []byte) bool {
	if data == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the send queue and the underlying transport exactly once.
// Safe to call concurrently with Enqueue: the closed flag and the queue
// share one mutex, so no send can race the channel close.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}

// ReadMessage exposes the transport read to the session loop.
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WritePump drains the send queue onto the transport. It exits when the
// queue is closed or a write fails; a failed write closes the transport,
// which in turn unblocks the session's read loop.
func (c *Client) WritePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.Close()
			// Drain so concurrent Enqueue callers never see a sold-out
			// queue as the only signal of a dead peer.
			for range c.send {
			}
			return
		}
	}
	c.Close()
}
