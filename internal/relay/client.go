package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dronerace/broker/internal/logging"
)

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second
)

// client is one WebSocket connection bound to a session room.
type client struct {
	id   string
	role Role
	conn *websocket.Conn
	log  *logging.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	room   *room
}

func newClient(id string, conn *websocket.Conn, logger *logging.Logger) *client {
	return &client{
		id:   id,
		conn: conn,
		log:  logger,
		send: make(chan []byte, sendBuffer),
	}
}

// enqueue queues msg for the writer. A client that cannot keep up is disconnected.
func (c *client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn("relay client send buffer full", logging.Client(c.id))
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *client) emit(event Event) bool {
	payload, err := event.encode()
	if err != nil {
		c.log.Error("relay event encode failed", logging.Error(err), logging.String("type", event.Type))
		return false
	}
	return c.enqueue(payload)
}

// shutdown closes the send queue so the writer sends a close frame and exits.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("relay write failed", logging.Error(err), logging.Client(c.id))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("relay ping failed", logging.Error(err), logging.Client(c.id))
				return
			}
		}
	}
}

// writeDirect reports an error to a connection that never joined a room.
func writeDirect(conn *websocket.Conn, event Event) {
	payload, err := event.encode()
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, event.Message))
}
